package match

import (
	"reflect"
	"regexp"
	"time"
)

// opFunc implements one field-scoped operator. left is the resolved
// field value; arg is the operator's operand from the query.
type opFunc func(ctx *evalCtx, left Value, arg any) bool

// operators is the exhaustive set of field-value operators the spec
// requires. $regex/$options are handled separately in matchField because
// they share state across two sibling keys.
var operators = map[string]opFunc{
	"$eq":     opEq,
	"$ne":     opNe,
	"$gt":     opOrder(1, false),
	"$gte":    opOrder(1, true),
	"$lt":     opOrder(-1, false),
	"$lte":    opOrder(-1, true),
	"$in":     opIn,
	"$nin":    opNin,
	"$all":    opAll,
	"$size":   opSize,
	"$exists": opExists,
	"$type":   opType,
	"$mod":    opMod,
	"$not":    opNot,
	"$and":    opAnd,
	"$or":     opOr,
}

func opEq(_ *evalCtx, left Value, arg any) bool {
	return equalValue(left, Value{V: arg, Found: true})
}

func opNe(_ *evalCtx, left Value, arg any) bool {
	return !equalValue(left, Value{V: arg, Found: true})
}

// opOrder builds $gt/$gte/$lt/$lte: direction is +1 for greater-than
// family, -1 for less-than family; orEqual includes the zero case.
func opOrder(direction int, orEqual bool) opFunc {
	return func(_ *evalCtx, left Value, arg any) bool {
		if !left.Found {
			return false
		}
		cmp, ok := compareValues(left.V, arg)
		if !ok {
			return false
		}
		if orEqual && cmp == 0 {
			return true
		}
		if direction > 0 {
			return cmp > 0
		}
		return cmp < 0
	}
}

func opIn(_ *evalCtx, left Value, arg any) bool {
	list, ok := toSlice(arg)
	if !ok {
		return false
	}
	for _, e := range list {
		if equalValue(left, Value{V: e, Found: true}) {
			return true
		}
	}
	return false
}

func opNin(ctx *evalCtx, left Value, arg any) bool {
	return !opIn(ctx, left, arg)
}

func opAll(_ *evalCtx, left Value, arg any) bool {
	if !left.Found {
		return false
	}
	fieldElems, ok := toSlice(left.V)
	if !ok {
		return false
	}
	wantElems, ok := toSlice(arg)
	if !ok {
		return false
	}
	for _, want := range wantElems {
		found := false
		for _, have := range fieldElems {
			if equalValue(Value{V: have, Found: true}, Value{V: want, Found: true}) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func opSize(_ *evalCtx, left Value, arg any) bool {
	if !left.Found {
		return false
	}
	elems, ok := toSlice(left.V)
	if !ok {
		return false
	}
	n, ok := tryNumber(arg)
	if !ok {
		return false
	}
	return float64(len(elems)) == n
}

func opExists(_ *evalCtx, left Value, arg any) bool {
	want, ok := arg.(bool)
	if !ok {
		want = truthy(arg)
	}
	return left.Found == want
}

func opType(_ *evalCtx, left Value, arg any) bool {
	if !left.Found {
		return false
	}
	name, ok := arg.(string)
	if !ok {
		return false
	}
	return dynamicType(left.V) == name
}

func opMod(_ *evalCtx, left Value, arg any) bool {
	if !left.Found {
		return false
	}
	pair, ok := toSlice(arg)
	if !ok || len(pair) != 2 {
		return false
	}
	value, ok := tryNumber(left.V)
	if !ok {
		return false
	}
	divisor, ok := tryNumber(pair[0])
	if !ok || divisor == 0 {
		return false
	}
	remainder, ok := tryNumber(pair[1])
	if !ok {
		return false
	}
	return float64(int64(value)%int64(divisor)) == float64(int64(remainder))
}

// opNot is the field-scoped unary negation: {field: {$not: matcher}}.
// This is distinct from the top-level query operator "$not", which
// wraps a full sub-query instead of a single matcher.
func opNot(ctx *evalCtx, left Value, arg any) bool {
	return !matchField(ctx, left.V, left.Found, arg)
}

// opAnd and opOr are the field-scoped forms of $and/$or: a list of
// matchers all evaluated against the same resolved field value, e.g.
// {d.amount: {$or: [{$lt: 100}, {$gt: 1000}]}}. This is distinct from
// the top-level query operators of the same name (evalAndList/
// evalOrList), which combine whole sub-queries over possibly different
// fields rather than matchers sharing one field.
func opAnd(ctx *evalCtx, left Value, arg any) bool {
	list, ok := arg.([]any)
	if !ok {
		ctx.debug("match: field-scoped $and requires an array operand, got %T", arg)
		return false
	}
	for _, sub := range list {
		if !matchField(ctx, left.V, left.Found, sub) {
			return false
		}
	}
	return true
}

func opOr(ctx *evalCtx, left Value, arg any) bool {
	list, ok := arg.([]any)
	if !ok {
		ctx.debug("match: field-scoped $or requires an array operand, got %T", arg)
		return false
	}
	if len(list) == 0 {
		return false
	}
	for _, sub := range list {
		if matchField(ctx, left.V, left.Found, sub) {
			return true
		}
	}
	return false
}

// applyRegex handles $regex together with its optional sibling $options,
// since both live as separate keys in the same operator map.
func applyRegex(ctx *evalCtx, left Value, mv map[string]any) bool {
	if !left.Found {
		return ctx.opts.UndefinedFieldIsTrue
	}
	s, ok := left.V.(string)
	if !ok {
		return false
	}

	var pattern string
	switch p := mv["$regex"].(type) {
	case string:
		pattern = p
	case *regexp.Regexp:
		return p.MatchString(s)
	default:
		ctx.debug("match: $regex operand must be a string, got %T", mv["$regex"])
		return false
	}

	flags := ""
	if opts, ok := mv["$options"].(string); ok {
		for _, r := range opts {
			switch r {
			case 'i', 'm', 's':
				flags += string(r)
			default:
				ctx.debug("match: unsupported $options flag %q", string(r))
			}
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		ctx.debug("match: invalid $regex pattern %q: %v", pattern, err)
		return false
	}
	return re.MatchString(s)
}

// toSlice normalizes the array-shaped value representations the engine
// may see (bson.A, []any, or a typed slice via reflection) into []any.
func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// dynamicType names the type family of a resolved value, per the
// operator's supported set.
func dynamicType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return "number"
	case time.Time:
		return "date"
	default:
		if _, ok := toSlice(v); ok {
			return "array"
		}
		return "object"
	}
}
