package aggregation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aevon-lab/eventsim/internal/core/partition"
	"github.com/shopspring/decimal"
)

// shard holds the event-owned aggregates of one logical partition.
// S[e] lives in partition.For(e); M[a,b] lives in partition.For(a).
type shard struct {
	mu    sync.Mutex
	sums  map[int64]decimal.Decimal
	pairs map[PairKey]decimal.Decimal
}

// SharedState is the event-partitioned half of the aggregator state.
// Each partition has its own mutex; callers lock only the partitions an update touches.
type SharedState struct {
	shards [partition.Count]*shard
}

// NewSharedState allocates empty partitions.
func NewSharedState() *SharedState {
	s := &SharedState{}
	for i := range s.shards {
		s.shards[i] = &shard{
			sums:  make(map[int64]decimal.Decimal),
			pairs: make(map[PairKey]decimal.Decimal),
		}
	}
	return s
}

// Lock acquires every partition owning one of eventIDs, in ascending partition order.
// Ascending acquisition is the global lock order, so concurrent multi-partition
// updates cannot deadlock. The returned view must be released with Unlock.
func (s *SharedState) Lock(eventIDs ...int64) *LockedView {
	held := make(map[int]struct{}, len(eventIDs))
	order := make([]int, 0, len(eventIDs))
	for _, id := range eventIDs {
		p := partition.For(id)
		if _, ok := held[p]; ok {
			continue
		}
		held[p] = struct{}{}
		order = append(order, p)
	}
	sort.Ints(order)
	for _, p := range order {
		s.shards[p].mu.Lock()
	}
	return &LockedView{state: s, held: held, order: order}
}

// Counts reports how many events and pairs are tracked. Partitions are visited one
// at a time, so the result is not an atomic cut across concurrent updates.
func (s *SharedState) Counts() (events, pairs int) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		events += len(sh.sums)
		pairs += len(sh.pairs)
		sh.mu.Unlock()
	}
	return events, pairs
}

// Load replaces the aggregates with the sums of a snapshot. Used at startup.
func (s *SharedState) Load(snap Snapshot) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.sums = make(map[int64]decimal.Decimal)
		sh.pairs = make(map[PairKey]decimal.Decimal)
		sh.mu.Unlock()
	}
	for event, sum := range snap.Sums {
		sh := s.shards[partition.For(event)]
		sh.mu.Lock()
		sh.sums[event] = sum
		sh.mu.Unlock()
	}
	for key, sum := range snap.PairSums {
		sh := s.shards[partition.For(key.A)]
		sh.mu.Lock()
		sh.pairs[key] = sum
		sh.mu.Unlock()
	}
}

// Export copies the sums into snap. Partitions are locked one at a time, so the copy
// is only consistent when no update is in flight.
func (s *SharedState) Export(snap *Snapshot) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for event, sum := range sh.sums {
			snap.Sums[event] = sum
		}
		for key, sum := range sh.pairs {
			snap.PairSums[key] = sum
		}
		sh.mu.Unlock()
	}
}

// LockedView reads and writes aggregates of the partitions held by one update.
type LockedView struct {
	state *SharedState
	held  map[int]struct{}
	order []int
}

func (v *LockedView) shardFor(id int64) *shard {
	p := partition.For(id)
	if _, ok := v.held[p]; !ok {
		panic(fmt.Sprintf("aggregation: partition %d for id %d is not locked", p, id))
	}
	return v.state.shards[p]
}

// Sum returns S[event], zero when unknown.
func (v *LockedView) Sum(event int64) decimal.Decimal {
	return v.shardFor(event).sums[event]
}

// SetSum overwrites S[event].
func (v *LockedView) SetSum(event int64, sum decimal.Decimal) {
	v.shardFor(event).sums[event] = sum
}

// PairSum returns M[key], zero when unknown.
func (v *LockedView) PairSum(key PairKey) decimal.Decimal {
	return v.shardFor(key.A).pairs[key]
}

// SetPairSum overwrites M[key].
func (v *LockedView) SetPairSum(key PairKey, sum decimal.Decimal) {
	v.shardFor(key.A).pairs[key] = sum
}

// Unlock releases the partitions in reverse acquisition order.
func (v *LockedView) Unlock() {
	for i := len(v.order) - 1; i >= 0; i-- {
		v.state.shards[v.order[i]].mu.Unlock()
	}
	v.order = nil
	v.held = nil
}
