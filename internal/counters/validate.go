package counters

import "fmt"

// toDefinition validates one raw catalogue entry and converts it to a
// Definition. Validation failures are configuration errors: fatal at
// construction, reported with the offending name or field.
func toDefinition(raw map[string]any) (Definition, error) {
	name, ok := raw["name"].(string)
	if !ok || name == "" {
		return Definition{}, fmt.Errorf("counters: catalogue entry missing a string \"name\"")
	}

	comp, ok := raw["computationConditions"].(map[string]any)
	if !ok {
		return Definition{}, fmt.Errorf("counters: counter %q missing an object \"computationConditions\"", name)
	}

	evalRaw, hasEval := raw["evaluationConditions"]
	evalCond := map[string]any{}
	if hasEval && evalRaw != nil {
		m, ok := evalRaw.(map[string]any)
		if !ok {
			return Definition{}, fmt.Errorf("counters: counter %q has a non-object \"evaluationConditions\"", name)
		}
		evalCond = m
	}

	fromMs, err := optionalInt64(raw["fromTimeMs"])
	if err != nil {
		return Definition{}, fmt.Errorf("counters: counter %q has a non-numeric fromTimeMs: %w", name, err)
	}
	toMs, err := optionalInt64(raw["toTimeMs"])
	if err != nil {
		return Definition{}, fmt.Errorf("counters: counter %q has a non-numeric toTimeMs: %w", name, err)
	}
	if fromMs != nil && toMs != nil && (*toMs < 0 || *fromMs < *toMs) {
		return Definition{}, fmt.Errorf("counters: counter %q has an invalid window fromTimeMs=%d toTimeMs=%d, want fromTimeMs >= toTimeMs >= 0", name, *fromMs, *toMs)
	}

	attrs, _ := raw["attributes"].(map[string]any)
	indexTypeName, _ := raw["indexTypeName"].(string)
	comment, _ := raw["comment"].(string)

	return Definition{
		Name:                  name,
		IndexTypeName:         indexTypeName,
		Comment:               comment,
		ComputationConditions: comp,
		EvaluationConditions:  evalCond,
		Attributes:            attrs,
		FromTimeMs:            fromMs,
		ToTimeMs:              toMs,
	}, nil
}

// optionalInt64 reads a JSON-decoded numeric field (always float64 from
// encoding/json, but int/int64 are accepted too for catalogues supplied
// programmatically) as an optional millisecond value.
func optionalInt64(v any) (*int64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		i := int64(n)
		return &i, nil
	case int64:
		return &n, nil
	case int:
		i := int64(n)
		return &i, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// checkUnique returns an error naming every name that appears more than
// once across defs.
func checkUnique(defs []Definition) error {
	seen := make(map[string]bool, len(defs))
	var dupes []string
	for _, d := range defs {
		if seen[d.Name] {
			dupes = append(dupes, d.Name)
			continue
		}
		seen[d.Name] = true
	}
	if len(dupes) == 0 {
		return nil
	}
	return fmt.Errorf("counters: duplicate counter name(s): %v", dupes)
}
