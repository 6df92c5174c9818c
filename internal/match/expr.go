package match

import (
	"strings"
	"time"
)

// nowLiteral is the relative-time anchor: a single timestamp captured
// once per Match call so every reference within one expression sees a
// consistent "now".
const nowLiteral = "$$NOW"

// operandPrefix is the root $-prefixed operand references ($d.foo) in
// $expr are rewritten/resolved against.
const operandPrefix = "$d."

// evalExprValue resolves one $expr operand: a literal, the "$$NOW"
// anchor, a "$d." fact-field reference, or a nested operator object.
func evalExprValue(ctx *evalCtx, node any) Value {
	switch v := node.(type) {
	case map[string]any:
		return evalExprOpValue(ctx, v)
	case string:
		if v == nowLiteral {
			return Value{V: ctx.now, Found: true}
		}
		if strings.HasPrefix(v, operandPrefix) {
			val, found := ctx.fact.Get(v[len(operandPrefix):])
			return Value{V: val, Found: found}
		}
		return Value{V: v, Found: true}
	default:
		return Value{V: v, Found: true}
	}
}

func evalExprOpValue(ctx *evalCtx, obj map[string]any) Value {
	if len(obj) != 1 {
		ctx.debug("match: $expr operator object must have exactly one key, got %d", len(obj))
		return Value{V: false, Found: true}
	}
	for op, operand := range obj {
		switch op {
		case "$eq":
			return boolValue(evalExprCompare(ctx, operand, cmpEq))
		case "$ne":
			return boolValue(evalExprCompare(ctx, operand, cmpNe))
		case "$gt":
			return boolValue(evalExprCompare(ctx, operand, cmpGt))
		case "$gte":
			return boolValue(evalExprCompare(ctx, operand, cmpGte))
		case "$lt":
			return boolValue(evalExprCompare(ctx, operand, cmpLt))
		case "$lte":
			return boolValue(evalExprCompare(ctx, operand, cmpLte))
		case "$and":
			return boolValue(evalExprLogical(ctx, operand, true))
		case "$or":
			return boolValue(evalExprLogical(ctx, operand, false))
		case "$dateAdd":
			return dateShift(ctx, operand, 1)
		case "$dateSubtract":
			return dateShift(ctx, operand, -1)
		case "$dateDiff":
			return dateDiff(ctx, operand)
		default:
			ctx.debug("match: unknown $expr operator %q", op)
			return Value{V: false, Found: true}
		}
	}
	panic("unreachable: map with exactly one key always iterates once")
}

func boolValue(b bool) Value {
	return Value{V: b, Found: true}
}

type cmpKind int

const (
	cmpEq cmpKind = iota
	cmpNe
	cmpGt
	cmpGte
	cmpLt
	cmpLte
)

func evalExprLogical(ctx *evalCtx, operand any, isAnd bool) bool {
	list, ok := operand.([]any)
	if !ok {
		ctx.debug("match: $expr $and/$or requires an array operand, got %T", operand)
		return false
	}
	for _, sub := range list {
		v := evalExprValue(ctx, sub)
		ok := v.Found && truthy(v.V)
		if isAnd && !ok {
			return false
		}
		if !isAnd && ok {
			return true
		}
	}
	return isAnd
}

func evalExprCompare(ctx *evalCtx, operand any, kind cmpKind) bool {
	list, ok := operand.([]any)
	if !ok || len(list) != 2 {
		ctx.debug("match: $expr comparison requires a 2-element array operand")
		return false
	}
	l := evalExprValue(ctx, list[0])
	r := evalExprValue(ctx, list[1])

	// A nested operator that yields no value (a failed $dateAdd,
	// $dateSubtract or $dateDiff) makes the whole comparison false.
	if _, nested := list[0].(map[string]any); nested && !l.Found {
		return false
	}
	if _, nested := list[1].(map[string]any); nested && !r.Found {
		return false
	}

	switch kind {
	case cmpEq:
		return equalValue(l, r)
	case cmpNe:
		return !equalValue(l, r)
	default:
		if !l.Found || !r.Found {
			return ctx.opts.UndefinedFieldIsTrue
		}
		cmp, ok := compareValues(l.V, r.V)
		if !ok {
			return false
		}
		switch kind {
		case cmpGt:
			return cmp > 0
		case cmpGte:
			return cmp >= 0
		case cmpLt:
			return cmp < 0
		case cmpLte:
			return cmp <= 0
		}
		return false
	}
}

// dateShift implements $dateAdd (sign +1) and $dateSubtract (sign -1).
// Any missing parameter, unresolvable start date, or unknown unit yields
// an absent Value, which propagates as "false" through any comparison
// that consumes it rather than throwing.
func dateShift(ctx *evalCtx, operand any, sign int) Value {
	m, ok := operand.(map[string]any)
	if !ok {
		ctx.debug("match: $dateAdd/$dateSubtract requires an object operand")
		return Value{Found: false}
	}
	startRaw, hasStart := m["startDate"]
	unitRaw, hasUnit := m["unit"]
	amountRaw, hasAmount := m["amount"]
	if !hasStart || !hasUnit || !hasAmount {
		ctx.debug("match: $dateAdd/$dateSubtract missing startDate, unit, or amount")
		return Value{Found: false}
	}

	startVal := evalExprValue(ctx, startRaw)
	if !startVal.Found {
		return Value{Found: false}
	}
	start, ok := asTime(startVal.V)
	if !ok {
		ctx.debug("match: $dateAdd/$dateSubtract startDate is not a date")
		return Value{Found: false}
	}
	unit, ok := unitRaw.(string)
	if !ok {
		ctx.debug("match: $dateAdd/$dateSubtract unit must be a string")
		return Value{Found: false}
	}
	amount, ok := tryNumber(amountRaw)
	if !ok {
		ctx.debug("match: $dateAdd/$dateSubtract amount must be numeric")
		return Value{Found: false}
	}

	shifted, ok := addUnit(start, unit, amount*float64(sign))
	if !ok {
		ctx.debug("match: unknown date unit %q", unit)
		return Value{Found: false}
	}
	return Value{V: shifted, Found: true}
}

// dateDiff implements $dateDiff. "day" and "week" results are whole
// units of elapsed time truncated toward zero; "month" and "year"
// results count calendar month/year boundaries between the two dates
// (day of month and time of day are ignored); "hour", "minute" and
// "second" results are fractional. The source this engine is modeled on
// leaves the exact rounding rule to its host date library, so this is a
// documented design decision rather than an attempt to match an
// unspecified behaviour exactly.
func dateDiff(ctx *evalCtx, operand any) Value {
	m, ok := operand.(map[string]any)
	if !ok {
		ctx.debug("match: $dateDiff requires an object operand")
		return Value{Found: false}
	}
	startRaw, hasStart := m["startDate"]
	endRaw, hasEnd := m["endDate"]
	unitRaw, hasUnit := m["unit"]
	if !hasStart || !hasEnd || !hasUnit {
		ctx.debug("match: $dateDiff missing startDate, endDate, or unit")
		return Value{Found: false}
	}

	startVal := evalExprValue(ctx, startRaw)
	endVal := evalExprValue(ctx, endRaw)
	if !startVal.Found || !endVal.Found {
		return Value{Found: false}
	}
	start, ok1 := asTime(startVal.V)
	end, ok2 := asTime(endVal.V)
	if !ok1 || !ok2 {
		ctx.debug("match: $dateDiff startDate/endDate is not a date")
		return Value{Found: false}
	}
	unit, ok := unitRaw.(string)
	if !ok {
		ctx.debug("match: $dateDiff unit must be a string")
		return Value{Found: false}
	}

	diff, ok := diffUnit(start, end, unit)
	if !ok {
		ctx.debug("match: unknown date unit %q", unit)
		return Value{Found: false}
	}
	return Value{V: diff, Found: true}
}

// addUnit shifts t by amount units of the named unit. Year/month/week/day
// are calendar-aware (via time.AddDate); the rest are fixed durations.
func addUnit(t time.Time, unit string, amount float64) (result time.Time, ok bool) {
	switch unit {
	case "year":
		return t.AddDate(int(amount), 0, 0), true
	case "month":
		return t.AddDate(0, int(amount), 0), true
	case "week":
		return t.AddDate(0, 0, int(amount)*7), true
	case "day":
		return t.AddDate(0, 0, int(amount)), true
	case "hour":
		return t.Add(time.Duration(amount * float64(time.Hour))), true
	case "minute":
		return t.Add(time.Duration(amount * float64(time.Minute))), true
	case "second":
		return t.Add(time.Duration(amount * float64(time.Second))), true
	case "millisecond":
		return t.Add(time.Duration(amount * float64(time.Millisecond))), true
	default:
		return t, false
	}
}

func diffUnit(start, end time.Time, unit string) (float64, bool) {
	switch unit {
	case "year":
		return float64(end.Year() - start.Year()), true
	case "month":
		years := end.Year() - start.Year()
		months := int(end.Month()) - int(start.Month())
		return float64(years*12 + months), true
	case "week":
		return float64(int64(end.Sub(start).Hours()) / (24 * 7)), true
	case "day":
		return float64(int64(end.Sub(start).Hours()) / 24), true
	case "hour":
		return end.Sub(start).Hours(), true
	case "minute":
		return end.Sub(start).Minutes(), true
	case "second":
		return end.Sub(start).Seconds(), true
	case "millisecond":
		return float64(end.Sub(start).Milliseconds()), true
	default:
		return 0, false
	}
}
