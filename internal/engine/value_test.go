package engine

import (
	"math"
	"testing"
)

func TestValueInt_RoundsAndClamps(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want int
	}{
		{"rounds half away from zero", Number(2.5), 3},
		{"negative", Number(-7.4), -7},
		{"numeric text", Text("12"), 12},
		{"huge", Number(1e30), MaxInt},
		{"huge negative", Number(-1e30), -MaxInt},
		{"infinity", Number(math.Inf(1)), MaxInt},
		{"nan", Number(math.NaN()), 0},
		{"none", Value{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Int(); got != tt.want {
				t.Fatalf("Int() = %d, want %d", got, tt.want)
			}
		})
	}
}
