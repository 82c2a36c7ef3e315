// Package memory is a process-local storage.Store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/aevon-lab/eventsim/internal/core/storage"
	"github.com/shopspring/decimal"
)

var _ storage.Store = (*Store)(nil)

type pairKey struct{ a, b int64 }

// Store keeps interactions and similarities in maps behind a single RWMutex.
type Store struct {
	mu           sync.RWMutex
	interactions map[int64]map[int64]v1.Interaction // user -> event -> record
	similarities map[pairKey]v1.EventSimilarity
	byEvent      map[int64]map[pairKey]struct{}

	// failNext makes the next n CommitUpdate calls fail with commitErr.
	failNext  int
	commitErr error
	commits   int
}

func NewStore() *Store {
	return &Store{
		interactions: make(map[int64]map[int64]v1.Interaction),
		similarities: make(map[pairKey]v1.EventSimilarity),
		byEvent:      make(map[int64]map[pairKey]struct{}),
	}
}

// FailCommits makes the next n commits return err without writing anything.
func (s *Store) FailCommits(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.commitErr = err
}

// Commits reports how many commits have succeeded.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *Store) CommitUpdate(ctx context.Context, interaction v1.Interaction, similarities []v1.EventSimilarity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return s.commitErr
	}

	events, ok := s.interactions[interaction.UserID]
	if !ok {
		events = make(map[int64]v1.Interaction)
		s.interactions[interaction.UserID] = events
	}
	if current, ok := events[interaction.EventID]; !ok || current.Rating.LessThan(interaction.Rating) {
		events[interaction.EventID] = interaction
	}

	for _, sim := range similarities {
		key := pairKey{a: sim.EventA, b: sim.EventB}
		s.similarities[key] = sim
		s.index(sim.EventA, key)
		s.index(sim.EventB, key)
	}

	s.commits++
	return nil
}

func (s *Store) index(event int64, key pairKey) {
	keys, ok := s.byEvent[event]
	if !ok {
		keys = make(map[pairKey]struct{})
		s.byEvent[event] = keys
	}
	keys[key] = struct{}{}
}

func (s *Store) RecentInteractions(_ context.Context, userID int64, limit int) ([]v1.Interaction, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	out := make([]v1.Interaction, 0, len(s.interactions[userID]))
	for _, in := range s.interactions[userID] {
		out = append(out, in)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].EventID < out[j].EventID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UserEventIDs(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.interactions[userID]))
	for event := range s.interactions[userID] {
		ids = append(ids, event)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) InteractionSums(_ context.Context, eventIDs []int64) ([]storage.EventRatingSum, error) {
	wanted := make(map[int64]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		wanted[id] = struct{}{}
	}

	sums := make(map[int64]decimal.Decimal)
	s.mu.RLock()
	for _, events := range s.interactions {
		for event, in := range events {
			if _, ok := wanted[event]; ok {
				sums[event] = sums[event].Add(in.Rating)
			}
		}
	}
	s.mu.RUnlock()

	out := make([]storage.EventRatingSum, 0, len(sums))
	for event, sum := range sums {
		out = append(out, storage.EventRatingSum{EventID: event, Sum: sum})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *Store) LoadInteractions(_ context.Context) ([]v1.Interaction, error) {
	s.mu.RLock()
	var out []v1.Interaction
	for _, events := range s.interactions {
		for _, in := range events {
			out = append(out, in)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

func (s *Store) SimilarTo(_ context.Context, eventID int64, exclude []int64, limit int) ([]v1.EventSimilarity, error) {
	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	return s.pairsOf(eventID, limit, func(other int64) bool {
		_, excluded := skip[other]
		return !excluded
	}), nil
}

func (s *Store) Neighbors(_ context.Context, eventID int64, among []int64, limit int) ([]v1.EventSimilarity, error) {
	keep := make(map[int64]struct{}, len(among))
	for _, id := range among {
		keep[id] = struct{}{}
	}
	return s.pairsOf(eventID, limit, func(other int64) bool {
		_, ok := keep[other]
		return ok
	}), nil
}

func (s *Store) pairsOf(eventID int64, limit int, accept func(other int64) bool) []v1.EventSimilarity {
	if limit <= 0 {
		return nil
	}

	s.mu.RLock()
	var out []v1.EventSimilarity
	for key := range s.byEvent[eventID] {
		sim := s.similarities[key]
		if accept(sim.Other(eventID)) {
			out = append(out, sim)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Other(eventID) < out[j].Other(eventID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
