package aggregation

import (
	"github.com/shopspring/decimal"
)

// PairKey identifies an unordered event pair in canonical order: A < B.
type PairKey struct {
	A int64
	B int64
}

// Canonical orders x and y so the same pair always has a single identity.
func Canonical(x, y int64) PairKey {
	if x < y {
		return PairKey{A: x, B: y}
	}
	return PairKey{A: y, B: x}
}

// Snapshot is a point-in-time copy of the running aggregates.
// Both the incremental path and Fold produce this shape so they can be compared.
type Snapshot struct {
	// Weights is user -> event -> highest weight observed.
	Weights map[int64]map[int64]decimal.Decimal
	// Sums is S[e].
	Sums map[int64]decimal.Decimal
	// PairSums is M[a,b] keyed canonically.
	PairSums map[PairKey]decimal.Decimal
}

// NewSnapshot returns an empty snapshot with allocated maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Weights:  make(map[int64]map[int64]decimal.Decimal),
		Sums:     make(map[int64]decimal.Decimal),
		PairSums: make(map[PairKey]decimal.Decimal),
	}
}

// Equal compares two snapshots by value. Zero-valued sums are treated as absent.
func (s Snapshot) Equal(other Snapshot) bool {
	return equalWeights(s.Weights, other.Weights) &&
		equalDecimalMaps(s.Sums, other.Sums) &&
		equalDecimalMaps(s.PairSums, other.PairSums)
}

func equalWeights(a, b map[int64]map[int64]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for user, events := range a {
		other, ok := b[user]
		if !ok || !equalDecimalMaps(events, other) {
			return false
		}
	}
	return true
}

func equalDecimalMaps[K comparable](a, b map[K]decimal.Decimal) bool {
	for k, v := range a {
		if !v.Equal(b[k]) {
			return false
		}
	}
	for k, v := range b {
		if !v.Equal(a[k]) {
			return false
		}
	}
	return true
}
