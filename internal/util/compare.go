package util

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CompareValues orders two decoded JSON values. Values of different kinds
// order as null < bool < number < string < anything else; numbers compare
// numerically, strings bytewise. It returns -1, 0 or 1.
func CompareValues(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankNumber:
		return compareNumbers(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(jsonString(a), jsonString(b))
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func rank(v interface{}) int {
	if v == nil {
		return rankNull
	}
	if _, ok := v.(bool); ok {
		return rankBool
	}
	if _, ok := ToFloat(v); ok {
		return rankNumber
	}
	if _, ok := v.(string); ok {
		return rankString
	}
	return rankOther
}

func compareNumbers(a, b interface{}) int {
	f1, _ := ToFloat(a)
	f2, _ := ToFloat(b)
	if f1 > f2 {
		return 1
	}
	if f1 < f2 {
		return -1
	}
	return 0
}

// ToFloat converts any Go numeric value (and json.Number) to float64.
func ToFloat(v interface{}) (float64, bool) {
	switch i := v.(type) {
	case float64:
		return i, true
	case float32:
		return float64(i), true
	case int:
		return float64(i), true
	case int8:
		return float64(i), true
	case int16:
		return float64(i), true
	case int32:
		return float64(i), true
	case int64:
		return float64(i), true
	case uint:
		return float64(i), true
	case uint8:
		return float64(i), true
	case uint16:
		return float64(i), true
	case uint32:
		return float64(i), true
	case uint64:
		return float64(i), true
	case json.Number:
		f, err := i.Float64()
		return f, err == nil
	}
	return 0, false
}

func jsonString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// SameKind reports whether a and b are both numbers, both strings or both
// booleans, i.e. whether an ordering comparison between them is meaningful.
func SameKind(a, b interface{}) bool {
	ra, rb := rank(a), rank(b)
	return ra == rb && (ra == rankNumber || ra == rankString || ra == rankBool)
}
