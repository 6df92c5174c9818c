package counters

import (
	"fmt"
	"sort"

	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/fieldmap"
	"github.com/ppiankov/counters/internal/match"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// defaultMessageTypeField is the fact-type discriminator query key used
// when ProducerOptions.MessageTypeField is unset.
const defaultMessageTypeField = "t"

// ProducerOptions configures catalogue construction and matching
// behaviour. It is threaded through explicitly rather than read from a
// process-wide singleton.
type ProducerOptions struct {
	// NameMap, if active, rewrites every query-carrying attribute to
	// compact field names at construction time.
	NameMap *fieldmap.Map

	// MessageTypeField is the query key the producer treats as the
	// fact-type discriminator when building type-keyed candidate
	// caches. Defaults to "t".
	MessageTypeField string

	// UndefinedFieldIsTrue changes missing-field semantics for the
	// evaluationConditions (affected-counters) pass only.
	UndefinedFieldIsTrue bool

	// SplitIntervals is an ascending list of millisecond boundaries
	// used to expand time-windowed counters into partitioned
	// sub-counters.
	SplitIntervals []int64

	DebugLog func(format string, args ...any)
	Warn     func(format string, args ...any)
}

// MatchResult is the outcome of Producer.FactCounters: the counters the
// fact contributes to, and how many counters it perturbs (a metric, not
// a result).
type MatchResult struct {
	Contributing  []*Definition
	AffectedCount int
}

// Producer owns an immutable, validated counter catalogue plus the
// type-keyed candidate caches used to evaluate it against facts.
type Producer struct {
	defs []Definition

	messageTypeField     string
	undefinedFieldIsTrue bool
	debugLog             func(format string, args ...any)
	warn                 func(format string, args ...any)

	compCache *candidateCache
	evalCache *candidateCache
}

// NewProducer builds a Producer from source, which is either a catalogue
// array already decoded by the caller ([]map[string]any / []bson.M), a
// file path (string) resolved per loadCatalogueFile, or nil for an empty
// catalogue.
// Validation failures, duplicate names, and incomplete compact-mode
// mappings are fatal and returned as a single combined error.
func NewProducer(source any, opts ProducerOptions) (*Producer, error) {
	if opts.MessageTypeField == "" {
		opts.MessageTypeField = defaultMessageTypeField
	}
	if opts.DebugLog == nil {
		opts.DebugLog = func(string, ...any) {}
	}
	if opts.Warn == nil {
		opts.Warn = func(string, ...any) {}
	}

	raw, err := loadRaw(source, opts.Warn)
	if err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(raw))
	var badEntries []string
	for _, r := range raw {
		d, err := toDefinition(r)
		if err != nil {
			badEntries = append(badEntries, err.Error())
			continue
		}
		defs = append(defs, d)
	}
	if len(badEntries) > 0 {
		return nil, fmt.Errorf("counters: %d invalid catalogue entr(ies): %v", len(badEntries), badEntries)
	}
	if err := checkUnique(defs); err != nil {
		return nil, err
	}

	if opts.NameMap != nil && opts.NameMap.Active() {
		for i := range defs {
			defs[i].ComputationConditions = opts.NameMap.TransformCondition(defs[i].ComputationConditions)
			defs[i].EvaluationConditions = opts.NameMap.TransformCondition(defs[i].EvaluationConditions)
			defs[i].Attributes = opts.NameMap.TransformAttributes(defs[i].Attributes)
		}
		if err := opts.NameMap.Activate(); err != nil {
			return nil, err
		}
	}

	defs = splitCatalogue(defs, opts.SplitIntervals)

	if err := checkUnique(defs); err != nil {
		return nil, err
	}

	p := &Producer{
		defs:                 defs,
		messageTypeField:     opts.MessageTypeField,
		undefinedFieldIsTrue: opts.UndefinedFieldIsTrue,
		debugLog:             opts.DebugLog,
		warn:                 opts.Warn,
	}
	p.compCache = newCandidateCache(p.defs, p.messageTypeField, func(d *Definition) map[string]any { return d.ComputationConditions })
	p.evalCache = newCandidateCache(p.defs, p.messageTypeField, func(d *Definition) map[string]any { return d.EvaluationConditions })
	return p, nil
}

// loadRaw normalizes source into a slice of raw JSON-object catalogue
// entries.
func loadRaw(source any, warn func(string, ...any)) ([]map[string]any, error) {
	switch s := source.(type) {
	case nil:
		return nil, nil
	case string:
		raw, err := loadCatalogueFile(s)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			warn("counters: catalogue file %q not found, starting with an empty catalogue", s)
		}
		return raw, nil
	case []map[string]any:
		return s, nil
	case []bson.M:
		out := make([]map[string]any, len(s))
		for i, m := range s {
			out[i] = map[string]any(m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("counters: unsupported catalogue source type %T", source)
	}
}

// Definitions returns the frozen, post-split catalogue in cache-build
// order (catalogue order, with split sub-counters inserted in place of
// their parent). The caller must not mutate the returned slice.
func (p *Producer) Definitions() []Definition {
	return p.defs
}

// FactCounters runs the two-pass match described by the counter
// producer: computationConditions decide contribution,
// evaluationConditions decide the affected-counter metric. allowedNames,
// if non-nil, restricts the contributing pass to those names. A null or
// payload-less fact yields nil with a warning; an empty contributing set
// yields nil without one.
func (p *Producer) FactCounters(f *fact.Fact, allowedNames map[string]bool) *MatchResult {
	if f == nil || f.IsZero() {
		p.warn("counters: fact_counters called with a null or payload-less fact")
		return nil
	}

	contributing := make([]*Definition, 0)
	for _, d := range p.compCache.forType(f.Type) {
		if allowedNames != nil && !allowedNames[d.Name] {
			continue
		}
		if d.Attributes == nil {
			p.warn("counters: counter %q has no attributes, skipping", d.Name)
			continue
		}
		if match.Match(f, d.ComputationConditions, match.Options{DebugLog: p.debugLog}) {
			contributing = append(contributing, d)
		}
	}

	affected := 0
	for _, d := range p.evalCache.forType(f.Type) {
		if match.Match(f, d.EvaluationConditions, match.Options{UndefinedFieldIsTrue: p.undefinedFieldIsTrue, DebugLog: p.debugLog}) {
			affected++
		}
	}

	if len(contributing) == 0 {
		return nil
	}
	return &MatchResult{Contributing: contributing, AffectedCount: affected}
}

// Facet is the legacy two-stage aggregation-pipeline fragment Make
// emits per contributing counter: a $match filter followed by a $group
// stage carrying the counter's attribute expressions.
type Facet [2]bson.M

// Make is the legacy facet-style operation, retained for callers still
// wired to a downstream aggregation pipeline. It runs the same
// contributing pass as FactCounters but returns each contributing
// counter as a named two-stage facet, plus the sorted set of
// index-type names the contributing counters touch.
func (p *Producer) Make(f *fact.Fact) (map[string]Facet, []string) {
	if f == nil || f.IsZero() {
		p.warn("counters: make called with a null or payload-less fact")
		return nil, nil
	}

	facets := make(map[string]Facet)
	indexTypes := make(map[string]bool)
	for _, d := range p.compCache.forType(f.Type) {
		if d.Attributes == nil {
			p.warn("counters: counter %q has no attributes, skipping", d.Name)
			continue
		}
		if !match.Match(f, d.ComputationConditions, match.Options{DebugLog: p.debugLog}) {
			continue
		}
		group := bson.M{"_id": nil}
		for name, expr := range d.Attributes {
			group[name] = expr
		}
		facets[d.Name] = Facet{
			bson.M{"$match": bson.M(d.ComputationConditions)},
			bson.M{"$group": group},
		}
		if d.IndexTypeName != "" {
			indexTypes[d.IndexTypeName] = true
		}
	}

	names := make([]string, 0, len(indexTypes))
	for n := range indexTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return facets, names
}
