package api

import "reflect"

// ConditionOp enumerates the comparison operators a Choice step may
// use. Conditions are side-effect-free tests over context fields.
type ConditionOp string

const (
	OpExists      ConditionOp = "exists"
	OpEquals      ConditionOp = "eq"
	OpNotEquals   ConditionOp = "ne"
	OpGreaterThan ConditionOp = "gt"
	OpLessThan    ConditionOp = "lt"
	OpNonEmpty    ConditionOp = "non-empty"
)

// Condition is one predicate of a Choice rule: an operator applied to
// a context field addressed by dot path.
type Condition struct {
	Path  string
	Op    ConditionOp
	Value any
}

// Exists is satisfied when the path is present, whatever its value.
func Exists(path string) Condition { return Condition{Path: path, Op: OpExists} }

// Equals is satisfied when the field equals v. Numeric values compare
// by magnitude, so int 3 equals float64 3 (JSON decoding produces
// float64 for all numbers).
func Equals(path string, v any) Condition { return Condition{Path: path, Op: OpEquals, Value: v} }

// NotEquals is the negation of Equals; it is also satisfied when the
// path is missing.
func NotEquals(path string, v any) Condition {
	return Condition{Path: path, Op: OpNotEquals, Value: v}
}

// GreaterThan is satisfied when the field is numerically or
// lexicographically greater than v.
func GreaterThan(path string, v any) Condition {
	return Condition{Path: path, Op: OpGreaterThan, Value: v}
}

// LessThan is the ordering counterpart of GreaterThan.
func LessThan(path string, v any) Condition {
	return Condition{Path: path, Op: OpLessThan, Value: v}
}

// NonEmpty is satisfied when the field is present and not the empty
// string, empty slice, empty map, or nil.
func NonEmpty(path string) Condition { return Condition{Path: path, Op: OpNonEmpty} }

// Evaluate applies the condition to a context document.
func (c Condition) Evaluate(doc Document) bool {
	got, ok := doc.Get(c.Path)
	switch c.Op {
	case OpExists:
		return ok
	case OpEquals:
		return ok && looseEqual(got, c.Value)
	case OpNotEquals:
		return !ok || !looseEqual(got, c.Value)
	case OpGreaterThan:
		return ok && compareValues(got, c.Value) > 0
	case OpLessThan:
		return ok && compareValues(got, c.Value) < 0
	case OpNonEmpty:
		return ok && !isEmptyValue(got)
	default:
		return false
	}
}

// looseEqual compares with numeric widening so values that went
// through JSON (float64) still match their Go literals (int).
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareValues returns -1, 0 or 1 for ordered values, and 0 for
// incomparable ones (which makes gt/lt evaluate false either way).
func compareValues(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
		return 0
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
	}
	return 0
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case Document:
		return len(t) == 0
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
