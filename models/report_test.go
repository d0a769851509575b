package models

import "testing"

func TestCoveragePercent(t *testing.T) {
	tests := []struct {
		name      string
		requested uint64
		scanned   uint64
		want      int
	}{
		{"full", 1000, 1000, 100},
		{"half", 1000, 500, 50},
		{"floors", 3, 2, 66},
		{"near miss stays below 100", 10000, 9960, 99},
		{"nothing requested", 0, 0, 100},
		{"overshoot capped", 100, 150, 100},
		{"empty scan", 1000, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Coverage{RequestedBlocks: tc.requested, ScannedBlocks: tc.scanned}
			if got := c.Percent(); got != tc.want {
				t.Fatalf("Percent() = %d, want %d", got, tc.want)
			}
		})
	}
}
