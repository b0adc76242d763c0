package scoring

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		passed, total int
		want          float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{5, 5, 100},
		{4, 5, 80},
		{4, 7, 57.14},
		{2, 3, 66.67},
		{1, 3, 33.33},
		{1, 32, 3.13},
		{1, 6, 16.67},
	}
	for _, tt := range tests {
		if got := Score(tt.passed, tt.total); got != tt.want {
			t.Errorf("Score(%d, %d) = %v, want %v", tt.passed, tt.total, got, tt.want)
		}
	}
}

func TestRecomputeCertification(t *testing.T) {
	tests := []struct {
		name          string
		passed, total int
		certified     bool
	}{
		{"no tests", 0, 0, false},
		{"perfect but too few", 4, 4, false},
		{"exactly at bar", 4, 5, true},
		{"above bar", 9, 10, true},
		{"just below bar", 79, 100, false},
		{"dropped after failures", 4, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recompute(tt.passed, tt.total)
			if got.Certified != tt.certified {
				t.Errorf("Recompute(%d, %d).Certified = %v, want %v (score %v)",
					tt.passed, tt.total, got.Certified, tt.certified, got.TrustScore)
			}
		})
	}
}

func TestRecomputeOrderIndependent(t *testing.T) {
	// Feeding results one at a time converges to the batch result.
	outcomes := []bool{true, false, true, true, true, false, true, true}
	var passed, total int
	var last Result
	for _, ok := range outcomes {
		total++
		if ok {
			passed++
		}
		last = Recompute(passed, total)
	}
	batch := Recompute(6, 8)
	if last != batch {
		t.Errorf("incremental = %+v, batch = %+v", last, batch)
	}
}
