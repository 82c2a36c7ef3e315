package aggregation

import (
	"math"

	"github.com/shopspring/decimal"
)

// Score computes M[a,b] / (sqrt(S[a]) * sqrt(S[b])).
// Zero or negative sums yield 0. The result is clamped to [0, 1] so float rounding
// never leaks a score outside the documented range.
func Score(pairSum, sumA, sumB decimal.Decimal) float64 {
	if sumA.Sign() <= 0 || sumB.Sign() <= 0 || pairSum.Sign() <= 0 {
		return 0
	}
	denominator := math.Sqrt(sumA.InexactFloat64()) * math.Sqrt(sumB.InexactFloat64())
	if denominator == 0 {
		return 0
	}
	score := pairSum.InexactFloat64() / denominator
	switch {
	case score > 1:
		return 1
	case score < 0 || math.IsNaN(score):
		return 0
	}
	return score
}
