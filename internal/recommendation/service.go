// Package recommendation answers read-time queries over the durable interaction
// and similarity tables. It holds no mutable state.
package recommendation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/aevon-lab/eventsim/internal/core/storage"
	"github.com/aevon-lab/eventsim/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid recommendation query")

const maxFanOut = 8

// Options bounds result sizes and query latency.
type Options struct {
	DefaultMaxResults int
	MaxResultsLimit   int
	QueryTimeout      time.Duration
}

// Service implements the recommendation queries.
type Service struct {
	interactions storage.InteractionStore
	similarities storage.SimilarityStore
	opts         Options
}

func NewService(interactions storage.InteractionStore, similarities storage.SimilarityStore, opts Options) *Service {
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 10
	}
	if opts.MaxResultsLimit <= 0 {
		opts.MaxResultsLimit = 100
	}
	return &Service{interactions: interactions, similarities: similarities, opts: opts}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.QueryTimeout)
}

// SimilarEvents returns the k events most similar to eventID whose id is not in
// exclude. When userID is positive, every event that user interacted with is
// excluded as well.
func (s *Service) SimilarEvents(ctx context.Context, eventID int64, userID int64, exclude []int64, k int) (items []v1.RecommendedEvent, err error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("similar_events", start, err) }()

	if eventID <= 0 {
		return nil, fmt.Errorf("%w: event_id must be positive", ErrInvalidQuery)
	}
	if userID < 0 {
		return nil, fmt.Errorf("%w: user_id must be positive", ErrInvalidQuery)
	}
	if k <= 0 {
		return []v1.RecommendedEvent{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if userID > 0 {
		interacted, err := s.interactions.UserEventIDs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load events of user %d: %w", userID, err)
		}
		exclude = append(append([]int64(nil), exclude...), interacted...)
	}

	sims, err := s.similarities.SimilarTo(ctx, eventID, exclude, k)
	if err != nil {
		return nil, fmt.Errorf("similar events of %d: %w", eventID, err)
	}

	items = make([]v1.RecommendedEvent, 0, len(sims))
	for _, sim := range sims {
		items = append(items, v1.RecommendedEvent{EventID: sim.Other(eventID), Score: sim.Score})
	}
	return items, nil
}

// RecommendationsForUser predicts the user's rating of events they have not seen
// from their k most recent interactions, weighting each neighbour's rating by its
// similarity to the candidate.
func (s *Service) RecommendationsForUser(ctx context.Context, userID int64, k int) (items []v1.RecommendedEvent, err error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("user_recommendations", start, err) }()

	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id must be positive", ErrInvalidQuery)
	}
	if k <= 0 {
		return []v1.RecommendedEvent{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	seeds, err := s.interactions.RecentInteractions(ctx, userID, k)
	if err != nil {
		return nil, fmt.Errorf("recent interactions of user %d: %w", userID, err)
	}
	if len(seeds) == 0 {
		return []v1.RecommendedEvent{}, nil
	}

	seedIDs := make([]int64, 0, len(seeds))
	ratings := make(map[int64]float64, len(seeds))
	for _, in := range seeds {
		seedIDs = append(seedIDs, in.EventID)
		ratings[in.EventID] = in.Rating.InexactFloat64()
	}

	candidates, err := s.candidates(ctx, seedIDs, k)
	if err != nil {
		return nil, err
	}

	items, err = s.predict(ctx, candidates, seedIDs, ratings, k)
	if err != nil {
		return nil, err
	}

	sortRanked(items)
	if len(items) > k {
		items = items[:k]
	}

	slog.Debug("[Recommendation] Predicted ratings",
		"user_id", userID,
		"seeds", len(seedIDs),
		"candidates", len(candidates),
		"returned", len(items))
	return items, nil
}

// candidates collects the events most similar to any seed, skipping the seeds
// themselves. The result is sorted by event id.
func (s *Service) candidates(ctx context.Context, seedIDs []int64, k int) ([]int64, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)

	var (
		mu    sync.Mutex
		found = make(map[int64]struct{})
	)
	for _, seed := range seedIDs {
		g.Go(func() error {
			sims, err := s.similarities.SimilarTo(gctx, seed, seedIDs, k)
			if err != nil {
				return fmt.Errorf("similar events of seed %d: %w", seed, err)
			}
			mu.Lock()
			for _, sim := range sims {
				found[sim.Other(seed)] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Service) predict(ctx context.Context, candidates, seedIDs []int64, ratings map[int64]float64, k int) ([]v1.RecommendedEvent, error) {
	items := make([]v1.RecommendedEvent, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)
	for i, candidate := range candidates {
		g.Go(func() error {
			neighbours, err := s.similarities.Neighbors(gctx, candidate, seedIDs, k)
			if err != nil {
				return fmt.Errorf("neighbours of candidate %d: %w", candidate, err)
			}
			items[i] = v1.RecommendedEvent{EventID: candidate, Score: weightedRating(candidate, neighbours, ratings)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// weightedRating is Σ sim·rating / Σ sim over the neighbours, or 0 when the
// denominator is zero.
func weightedRating(candidate int64, neighbours []v1.EventSimilarity, ratings map[int64]float64) float64 {
	var numerator, denominator float64
	for _, n := range neighbours {
		numerator += n.Score * ratings[n.Other(candidate)]
		denominator += n.Score
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// InteractionsCounts returns the summed rating of each event id that has at least
// one interaction, ordered by event id.
func (s *Service) InteractionsCounts(ctx context.Context, eventIDs []int64) (items []v1.RecommendedEvent, err error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("interactions_counts", start, err) }()

	if len(eventIDs) == 0 {
		return []v1.RecommendedEvent{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sums, err := s.interactions.InteractionSums(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("interaction sums: %w", err)
	}

	items = make([]v1.RecommendedEvent, 0, len(sums))
	for _, sum := range sums {
		items = append(items, v1.RecommendedEvent{EventID: sum.EventID, Score: sum.Sum.InexactFloat64()})
	}
	return items, nil
}

// sortRanked orders by score descending, then event id ascending.
func sortRanked(items []v1.RecommendedEvent) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].EventID < items[j].EventID
	})
}
