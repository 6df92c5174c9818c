// Package match implements the condition evaluator: a pure, deterministic
// interpreter of a MongoDB-style query language over a single fact. It
// performs no I/O and never mutates its inputs; malformed queries or
// missing fields degrade to "false" rather than panicking.
package match

import (
	"strings"
	"time"

	"github.com/ppiankov/counters/internal/fact"
)

// Options configures per-call evaluator behaviour.
type Options struct {
	// UndefinedFieldIsTrue makes the absence of the field on the left of
	// any leaf comparison evaluate to true instead of false. The
	// counter producer sets this for its affected-counters pass, to
	// over-approximate which counters a fact might perturb.
	UndefinedFieldIsTrue bool

	// DebugLog receives one line per swallowed evaluation error (unknown
	// operator, malformed operand, bad date). Nil discards them.
	DebugLog func(format string, args ...any)

	// Now overrides the evaluator's notion of current wall time, for
	// deterministic tests. Nil uses time.Now.
	Now func() time.Time
}

// evalCtx threads per-call state (the fact, options, and the single "now"
// anchor captured at the start of Match) through the recursive evaluator.
type evalCtx struct {
	fact *fact.Fact
	opts Options
	now  time.Time
}

func (c *evalCtx) debug(format string, args ...any) {
	if c.opts.DebugLog != nil {
		c.opts.DebugLog(format, args...)
	}
}

// Match evaluates query against fact and returns whether fact satisfies
// it. A nil or empty query matches any fact, including a nil one. A
// non-empty query never matches a nil or payload-less fact.
func Match(f *fact.Fact, query map[string]any, opts Options) bool {
	if len(query) == 0 {
		return true
	}
	if f == nil || f.IsZero() {
		return false
	}

	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}
	ctx := &evalCtx{fact: f, opts: opts, now: now}
	return evalQuery(ctx, query)
}

// evalQuery requires every (key, value) pair in q to hold (implicit AND).
func evalQuery(ctx *evalCtx, q map[string]any) bool {
	for k, v := range q {
		if !evalKey(ctx, k, v) {
			return false
		}
	}
	return true
}

func evalKey(ctx *evalCtx, key string, value any) bool {
	switch key {
	case "$expr":
		return evalExprAsCondition(ctx, value)
	case "$and":
		return evalAndList(ctx, value)
	case "$or":
		return evalOrList(ctx, value)
	case "$not":
		sub, ok := value.(map[string]any)
		if !ok {
			ctx.debug("match: $not at query level requires an object operand, got %T", value)
			return false
		}
		return !evalQuery(ctx, sub)
	default:
		v, found := ctx.fact.Get(key)
		return matchField(ctx, v, found, value)
	}
}

func evalAndList(ctx *evalCtx, value any) bool {
	list, ok := value.([]any)
	if !ok {
		ctx.debug("match: $and requires an array operand, got %T", value)
		return false
	}
	for _, sub := range list {
		q, ok := sub.(map[string]any)
		if !ok {
			ctx.debug("match: $and element must be an object, got %T", sub)
			return false
		}
		if !evalQuery(ctx, q) {
			return false
		}
	}
	return true
}

func evalOrList(ctx *evalCtx, value any) bool {
	list, ok := value.([]any)
	if !ok {
		ctx.debug("match: $or requires an array operand, got %T", value)
		return false
	}
	if len(list) == 0 {
		return false
	}
	for _, sub := range list {
		q, ok := sub.(map[string]any)
		if !ok {
			ctx.debug("match: $or element must be an object, got %T", sub)
			continue
		}
		if evalQuery(ctx, q) {
			return true
		}
	}
	return false
}

// matchField tests a single resolved field value against its matcher:
// an operator map (all keys "$"-prefixed), or a scalar/plain-object
// value compared with type-loose equality.
func matchField(ctx *evalCtx, v any, found bool, matcher any) bool {
	left := Value{V: v, Found: found}

	if mv, ok := matcher.(map[string]any); ok && isOperatorMap(mv) {
		if _, hasRegex := mv["$regex"]; hasRegex {
			if !applyRegex(ctx, left, mv) {
				return false
			}
		}
		for op, arg := range mv {
			if op == "$regex" || op == "$options" {
				continue
			}
			if !applyOperator(ctx, op, left, arg) {
				return false
			}
		}
		return true
	}

	if !left.Found && ctx.opts.UndefinedFieldIsTrue {
		return true
	}

	// A bare-array matcher against a scalar field is treated as implicit
	// membership (the same value the discriminator-type predicate uses,
	// e.g. {t:[50,70]}), rather than requiring the field itself to be an
	// array deep-equal to the matcher.
	if matchElems, ok := matcher.([]any); ok {
		if _, fieldIsArray := toSlice(left.V); !fieldIsArray {
			return opIn(ctx, left, matchElems)
		}
	}

	return equalValue(left, Value{V: matcher, Found: true})
}

// isOperatorMap reports whether every key in m is "$"-prefixed, i.e. m is
// an operator matcher rather than a plain nested-document matcher.
func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func applyOperator(ctx *evalCtx, op string, left Value, arg any) bool {
	if !left.Found && ctx.opts.UndefinedFieldIsTrue && op != "$exists" {
		return true
	}
	fn, ok := operators[op]
	if !ok {
		ctx.debug("match: unknown operator %q", op)
		return false
	}
	return fn(ctx, left, arg)
}

func evalExprAsCondition(ctx *evalCtx, node any) bool {
	v := evalExprValue(ctx, node)
	if !v.Found {
		return ctx.opts.UndefinedFieldIsTrue
	}
	return truthy(v.V)
}
