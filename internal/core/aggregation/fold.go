package aggregation

import (
	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/shopspring/decimal"
)

// Fold computes S and M from scratch out of durable interaction records.
// This is the closed-form definition the incremental path must always agree with.
// Duplicate (user, event) records keep the highest rating.
func Fold(interactions []v1.Interaction) Snapshot {
	snap := NewSnapshot()
	for _, in := range interactions {
		raise(snap.Weights, in.UserID, in.EventID, in.Rating)
	}
	fillSums(&snap)
	return snap
}

// FoldActions folds a raw action history. Actions with an unknown kind are skipped,
// matching what ingestion would have rejected.
func FoldActions(actions []v1.UserAction) Snapshot {
	snap := NewSnapshot()
	for _, a := range actions {
		kind, err := v1.ParseActionType(string(a.ActionType))
		if err != nil {
			continue
		}
		w, err := WeightOf(kind)
		if err != nil {
			continue
		}
		raise(snap.Weights, a.UserID, a.EventID, w)
	}
	fillSums(&snap)
	return snap
}

func raise(weights map[int64]map[int64]decimal.Decimal, user, event int64, w decimal.Decimal) {
	events, ok := weights[user]
	if !ok {
		events = make(map[int64]decimal.Decimal)
		weights[user] = events
	}
	if w.GreaterThan(events[event]) {
		events[event] = w
	}
}

func fillSums(snap *Snapshot) {
	for _, events := range snap.Weights {
		for event, w := range events {
			snap.Sums[event] = snap.Sums[event].Add(w)
		}
		for a, wa := range events {
			for b, wb := range events {
				if a >= b {
					continue
				}
				key := PairKey{A: a, B: b}
				snap.PairSums[key] = snap.PairSums[key].Add(decimal.Min(wa, wb))
			}
		}
	}
}

// Similarities derives every pair score of a snapshot. Pairs are keyed canonically.
func (s Snapshot) Similarities() map[PairKey]float64 {
	out := make(map[PairKey]float64, len(s.PairSums))
	for key, m := range s.PairSums {
		out[key] = Score(m, s.Sums[key.A], s.Sums[key.B])
	}
	return out
}
