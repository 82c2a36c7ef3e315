package storage

import (
	"context"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/shopspring/decimal"
)

// EventRatingSum is the total rating accumulated by one event.
type EventRatingSum struct {
	EventID int64
	Sum     decimal.Decimal
}

// InteractionStore reads durable (user, event) interaction records.
type InteractionStore interface {
	// RecentInteractions returns the user's interactions ordered by timestamp desc,
	// then event id asc. limit <= 0 returns nothing.
	RecentInteractions(ctx context.Context, userID int64, limit int) ([]v1.Interaction, error)

	// UserEventIDs returns every event the user has interacted with, ascending.
	UserEventIDs(ctx context.Context, userID int64) ([]int64, error)

	// InteractionSums returns the rating sum of each listed event that has interactions,
	// ordered by event id asc.
	InteractionSums(ctx context.Context, eventIDs []int64) ([]EventRatingSum, error)

	// LoadInteractions returns the whole table. Used to rebuild aggregator state at startup.
	LoadInteractions(ctx context.Context) ([]v1.Interaction, error)
}

// SimilarityStore reads durable event-pair similarity records.
type SimilarityStore interface {
	// SimilarTo returns pairs involving eventID whose other endpoint is not in exclude,
	// ordered by score desc then other event id asc.
	SimilarTo(ctx context.Context, eventID int64, exclude []int64, limit int) ([]v1.EventSimilarity, error)

	// Neighbors returns pairs connecting eventID to any event in among, same ordering.
	Neighbors(ctx context.Context, eventID int64, among []int64, limit int) ([]v1.EventSimilarity, error)
}

// UpdateWriter persists the result of one aggregator update atomically.
// The interaction upsert never lowers an existing rating; similarity upserts
// are last-writer-wins per pair.
type UpdateWriter interface {
	CommitUpdate(ctx context.Context, interaction v1.Interaction, similarities []v1.EventSimilarity) error
}

// Store is the full storage surface a backend provides.
type Store interface {
	InteractionStore
	SimilarityStore
	UpdateWriter
	Ping(ctx context.Context) error
	Close() error
}
