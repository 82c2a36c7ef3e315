package aggregation

import (
	"sort"
	"time"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/shopspring/decimal"
)

// StateView is the subset of shared state an update reads and writes.
// LockedView implements it; tests may use a plain map-backed view.
type StateView interface {
	Sum(event int64) decimal.Decimal
	SetSum(event int64, sum decimal.Decimal)
	PairSum(key PairKey) decimal.Decimal
	SetPairSum(key PairKey, sum decimal.Decimal)
}

// Update is a planned, not yet applied, change caused by one user action.
// Nothing is mutated until Apply is called, so a failed durable write can be
// abandoned without rolling anything back.
type Update struct {
	Interaction v1.Interaction
	OldWeight   decimal.Decimal

	// Sum is the new S[event].
	Sum decimal.Decimal

	// PairSums holds only the M entries whose value changes.
	PairSums map[PairKey]decimal.Decimal

	// Similarities has one record per other event the user touched, ordered by pair.
	Similarities []v1.EventSimilarity
}

// Plan computes the effect of raising the user's weight on eventID to newWeight.
// userWeights is the acting user's event -> weight map. It returns false when
// newWeight does not exceed the current weight (duplicate or weaker action).
func Plan(
	view StateView,
	userWeights map[int64]decimal.Decimal,
	userID int64,
	eventID int64,
	newWeight decimal.Decimal,
	ts time.Time,
) (Update, bool) {
	oldWeight := userWeights[eventID]
	if newWeight.LessThanOrEqual(oldWeight) {
		return Update{}, false
	}

	upd := Update{
		Interaction: v1.Interaction{
			UserID:    userID,
			EventID:   eventID,
			Rating:    newWeight,
			Timestamp: ts,
		},
		OldWeight: oldWeight,
		Sum:       view.Sum(eventID).Add(newWeight.Sub(oldWeight)),
		PairSums:  make(map[PairKey]decimal.Decimal),
	}

	for _, other := range OtherEvents(userWeights, eventID) {
		otherWeight := userWeights[other]
		key := Canonical(eventID, other)

		oldMin := decimal.Min(oldWeight, otherWeight)
		newMin := decimal.Min(newWeight, otherWeight)

		pairSum := view.PairSum(key)
		if !oldMin.Equal(newMin) {
			pairSum = pairSum.Add(newMin.Sub(oldMin))
			upd.PairSums[key] = pairSum
		}

		upd.Similarities = append(upd.Similarities, v1.EventSimilarity{
			EventA:    key.A,
			EventB:    key.B,
			Score:     Score(pairSum, upd.Sum, view.Sum(other)),
			Timestamp: ts,
		})
	}

	return upd, true
}

// Apply writes the planned sums into view and raises the user's weight.
func (u Update) Apply(view StateView, userWeights map[int64]decimal.Decimal) {
	view.SetSum(u.Interaction.EventID, u.Sum)
	for key, sum := range u.PairSums {
		view.SetPairSum(key, sum)
	}
	userWeights[u.Interaction.EventID] = u.Interaction.Rating
}

// OtherEvents lists the user's events except eventID in ascending order.
func OtherEvents(userWeights map[int64]decimal.Decimal, eventID int64) []int64 {
	others := make([]int64, 0, len(userWeights))
	for event := range userWeights {
		if event != eventID {
			others = append(others, event)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	return others
}
