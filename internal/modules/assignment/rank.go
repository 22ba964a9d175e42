// README: Candidate ordering for the assignment engine.
package assignment

import (
	"sort"
	"time"
)

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// less orders by pickup key, then raw travel, then rider id so ties are stable across runs.
func less(a, b CandidateScore) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	if a.Travel != b.Travel {
		return a.Travel < b.Travel
	}
	return a.RiderID < b.RiderID
}

func rank(scores []CandidateScore) {
	sort.Slice(scores, func(i, j int) bool { return less(scores[i], scores[j]) })
}
