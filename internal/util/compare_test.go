package util

import "testing"

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b interface{}
		want int
	}{
		{nil, nil, 0},
		{nil, false, -1},
		{true, false, 1},
		{false, 1.0, -1},
		{2, 10.0, -1},
		{int64(30), 30.0, 0},
		{"10", 9.0, 1},
		{"abc", "abd", -1},
		{"b", "b", 0},
		{[]interface{}{1.0}, "z", 1},
		{map[string]interface{}{"a": 1.0}, map[string]interface{}{"a": 1.0}, 0},
	}
	for _, tt := range tests {
		if got := CompareValues(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareValues(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSameKind(t *testing.T) {
	if !SameKind(1, 2.5) || !SameKind("a", "b") || !SameKind(true, false) {
		t.Error("expected matching kinds")
	}
	if SameKind("1", 1) || SameKind(nil, nil) || SameKind([]interface{}{}, []interface{}{}) {
		t.Error("expected mismatched kinds")
	}
}
