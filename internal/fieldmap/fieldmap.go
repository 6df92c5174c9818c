// Package fieldmap rewrites field references inside counter query trees so
// that on-the-wire facts may use compact keys without altering the
// authored, long-form queries. It is a shape-preserving, idempotent
// rewriter whose only runtime state, beyond its two lookup tables, is
// the set of unmapped long names FieldName records for Activate.
package fieldmap

import (
	"fmt"
	"sort"
	"strings"
)

// Rule is a single entry of the name-map file: a long field name and its
// short, on-the-wire equivalent. Other fields in the source file are
// ignored by the loader.
type Rule struct {
	Dst      string `json:"dst"`
	ShortDst string `json:"shortDst"`
}

// indicatorPrefix marks counter-indicator fields ("i_...") that are never
// expected to carry a short-name mapping and so never warn when absent.
const indicatorPrefix = "i_"

// rootPrefix is the path root every payload field reference is rooted at.
const rootPrefix = "d."

// variablePrefix is the root runtime variables ($$d.foo) are rewritten
// against.
const variablePrefix = "$$d."

// operandPrefix is the root $-prefixed operand references ($d.foo) are
// rewritten against.
const operandPrefix = "$d."

// Map holds the two directions of the field-name rewrite built from a
// rule list: long->short for rewriting authored queries when compact mode
// is active, short->long for translating results back.
type Map struct {
	active      bool
	longToShort map[string]string
	shortToLong map[string]string
	warn        func(format string, args ...any)

	unmapped map[string]bool
}

// New builds a field-name map from rule list. active controls whether
// FieldName rewrites at all; warn receives conflict/unknown-name
// diagnostics (pass nil to discard them). Conflicting rules - two long
// names mapping to the same short name - are logged and never fail,
// here or in Activate; Activate fails only for long names that have no
// short mapping.
func New(rules []Rule, active bool, warn func(format string, args ...any)) *Map {
	if warn == nil {
		warn = func(string, ...any) {}
	}

	m := &Map{
		active:      active,
		longToShort: make(map[string]string, len(rules)),
		shortToLong: make(map[string]string, len(rules)),
		warn:        warn,
		unmapped:    make(map[string]bool),
	}

	seenShort := make(map[string]string, len(rules))
	for _, r := range rules {
		if r.Dst == "" || r.ShortDst == "" {
			continue
		}
		if prevLong, ok := seenShort[r.ShortDst]; ok && prevLong != r.Dst {
			warn("fieldmap: conflicting long names %q and %q both map to short name %q", prevLong, r.Dst, r.ShortDst)
		}
		seenShort[r.ShortDst] = r.Dst
		m.longToShort[r.Dst] = r.ShortDst
		m.shortToLong[r.ShortDst] = r.Dst
	}

	return m
}

// Active reports whether compact-mode rewriting is enabled.
func (m *Map) Active() bool {
	return m != nil && m.active
}

// FieldName returns the short form of long when compact mode is active
// and a mapping exists; otherwise it returns long unchanged. Unknown
// long names that are not counter-indicator fields ("i_" prefix) are
// recorded and emit a warning; they do not fail this call.
func (m *Map) FieldName(long string) string {
	if m == nil || !m.active {
		return long
	}
	if short, ok := m.longToShort[long]; ok {
		return short
	}
	if !strings.HasPrefix(long, indicatorPrefix) {
		m.unmapped[long] = true
		m.warn("fieldmap: no short-name mapping for field %q", long)
	}
	return long
}

// Original is the inverse lookup of FieldName: it maps a short name back
// to its authored long form, falling back to identity when unknown.
func (m *Map) Original(short string) string {
	if m == nil {
		return short
	}
	if long, ok := m.shortToLong[short]; ok {
		return long
	}
	return short
}

// Activate finalizes compact-mode rewriting: if active and any long name
// referenced since construction (or passed explicitly in names) has no
// short mapping, it returns a fatal error naming every offender. Call
// this once all counter definitions have been transformed.
func (m *Map) Activate(names ...string) error {
	if m == nil || !m.active {
		return nil
	}
	missing := make(map[string]bool, len(m.unmapped)+len(names))
	for n := range m.unmapped {
		missing[n] = true
	}
	for _, n := range names {
		if strings.HasPrefix(n, indicatorPrefix) {
			continue
		}
		if _, ok := m.longToShort[n]; !ok {
			missing[n] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}
	list := make([]string, 0, len(missing))
	for n := range missing {
		list = append(list, n)
	}
	sort.Strings(list)
	return fmt.Errorf("fieldmap: compact mode requires a short name for: %s", strings.Join(list, ", "))
}

// TransformPath rewrites only the first path segment after the "d."
// root, e.g. "d.foo.bar" -> "d.short.bar". Paths not rooted at "d." pass
// through unchanged.
func (m *Map) TransformPath(path string) string {
	if !strings.HasPrefix(path, rootPrefix) {
		return path
	}
	rest := path[len(rootPrefix):]
	head, tail, hasTail := strings.Cut(rest, ".")
	short := m.FieldName(head)
	if !hasTail {
		return rootPrefix + short
	}
	return rootPrefix + short + "." + tail
}

// TransformMongoPath rewrites a "$d.foo[.suffix]" operand reference.
// Arrays are rewritten element-wise; values that are not strings or that
// do not start with "$d." pass through unchanged.
func (m *Map) TransformMongoPath(v any) any {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, operandPrefix) {
			return val
		}
		rest := val[len(operandPrefix):]
		head, tail, hasTail := strings.Cut(rest, ".")
		short := m.FieldName(head)
		if !hasTail {
			return operandPrefix + short
		}
		return operandPrefix + short + "." + tail
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = m.TransformMongoPath(e)
		}
		return out
	default:
		return v
	}
}

// TransformVariablePath applies the same rewrite as TransformMongoPath but
// for runtime variable references ("$$d.foo[.suffix]").
func (m *Map) TransformVariablePath(v any) any {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, variablePrefix) {
			return val
		}
		rest := val[len(variablePrefix):]
		head, tail, hasTail := strings.Cut(rest, ".")
		short := m.FieldName(head)
		if !hasTail {
			return variablePrefix + short
		}
		return variablePrefix + short + "." + tail
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = m.TransformVariablePath(e)
		}
		return out
	default:
		return v
	}
}

// TransformCondition recursively rewrites a query tree:
//   - keys beginning with "d." have their first segment rewritten; their
//     value is recursively transformed;
//   - keys beginning with "$" (operators) are preserved; their value is
//     recursively transformed;
//   - the operator key "$expr" invokes TransformExpr instead;
//   - any other key passes through structurally.
//
// The rewrite is shape-preserving (same tree topology, same operator
// nodes) and idempotent once every long name is already short.
func (m *Map) TransformCondition(q map[string]any) map[string]any {
	if q == nil {
		return nil
	}
	out := make(map[string]any, len(q))
	for k, v := range q {
		switch {
		case k == "$expr":
			out[k] = m.TransformExpr(v)
		case strings.HasPrefix(k, rootPrefix):
			out[m.TransformPath(k)] = m.transformValue(v)
		case strings.HasPrefix(k, "$"):
			out[k] = m.transformValue(v)
		default:
			out[k] = m.transformValue(v)
		}
	}
	return out
}

// transformValue descends into a matcher value: nested conditions,
// lists of conditions ($and/$or/$not operands), and scalars.
func (m *Map) transformValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return m.TransformCondition(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = m.transformValue(e)
		}
		return out
	default:
		return v
	}
}

// TransformExpr rewrites an "$expr" operator tree. Each operator's
// operand is (i) rewritten if it is a "$d." path string, (ii) recursively
// descended via TransformCondition if it is an object, or (iii) passed
// through unchanged otherwise.
func (m *Map) TransformExpr(expr any) any {
	obj, ok := expr.(map[string]any)
	if !ok {
		return expr
	}
	out := make(map[string]any, len(obj))
	for op, operand := range obj {
		out[op] = m.transformExprOperand(operand)
	}
	return out
}

func (m *Map) transformExprOperand(operand any) any {
	switch v := operand.(type) {
	case string:
		return m.TransformMongoPath(v)
	case map[string]any:
		return m.TransformCondition(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = m.transformExprOperand(e)
		}
		return out
	default:
		return v
	}
}

// TransformAttributes rewrites aggregation operand paths inside attribute
// expressions. Both "$d." and "$$d." forms are recognized within each
// expression's operand values.
func (m *Map) TransformAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for name, expr := range attrs {
		out[name] = m.transformAttributeExpr(expr)
	}
	return out
}

func (m *Map) transformAttributeExpr(expr any) any {
	switch v := expr.(type) {
	case string:
		if strings.HasPrefix(v, variablePrefix) {
			return m.TransformVariablePath(v)
		}
		return m.TransformMongoPath(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, operand := range v {
			out[k] = m.transformAttributeExpr(operand)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = m.transformAttributeExpr(e)
		}
		return out
	default:
		return v
	}
}
