// Package oracle adapts trust scores for on-chain consumption. Chainlink
// nodes consume integers, so a score in [0,1] maps to basis points in
// [0, 10000].
package oracle

import "math"

// BasisPoints converts a trust score to basis points: the score is clamped
// to [0,1], scaled by 10000, and rounded half up.
func BasisPoints(score float64) int {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return int(math.Floor(score*10000 + 0.5))
}
