// Package scoring derives an agent's trust score and certification status
// from its test history.
//
// The score is the plain pass ratio over every result ever recorded. There is
// no decay and no recency weighting: the first test counts as much as the
// latest one.
package scoring

import "math"

const (
	// CertificationThreshold is the minimum trust score for certification.
	CertificationThreshold = 80.0
	// MinimumTests is the minimum number of recorded tests for certification.
	MinimumTests = 5
)

// Result is the outcome of a recomputation.
type Result struct {
	TrustScore float64
	Certified  bool
}

// Recompute returns the trust score (0-100, two decimals) and the current
// certification flag for the given pass and total counts.
func Recompute(passed, total int) Result {
	score := Score(passed, total)
	return Result{
		TrustScore: score,
		Certified:  score >= CertificationThreshold && total >= MinimumTests,
	}
}

// Score returns passed/total as a percentage rounded half away from zero to
// two decimal places. It is 0 when total is 0.
func Score(passed, total int) float64 {
	if total <= 0 {
		return 0
	}
	// Scale in integers first so only one float division takes place.
	return math.Round(float64(passed)*10000/float64(total)) / 100
}
