package match

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericStringRe matches a decimal literal once spaces and thousands
// separators have been stripped.
var numericStringRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// tryNumber converts ints, floats, and numeric strings (after stripping
// spaces and comma thousands separators) to float64.
func tryNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		s := strings.ReplaceAll(n, ",", "")
		s = strings.ReplaceAll(s, " ", "")
		if s == "" || !numericStringRe.MatchString(s) {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// compareValues orders a against b: numeric-string-coerced numbers
// compare numerically, two plain strings compare lexicographically, two
// dates compare chronologically. Anything else is not comparable.
func compareValues(a, b any) (int, bool) {
	if af, aok := tryNumber(a); aok {
		if bf, bok := tryNumber(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), true
		}
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// asTime resolves v as a timestamp: a time.Time directly, a Unix epoch in
// milliseconds (int64/float64, the common JSON representation), or a
// string in one of a handful of common layouts.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
