package v1

import (
	"time"

	"github.com/shopspring/decimal"
)

// Interaction is the durable (user, event) record.
// Rating is the highest weight ever observed for the pair and never decreases.
type Interaction struct {
	UserID    int64           `json:"user_id"`
	EventID   int64           `json:"event_id"`
	Rating    decimal.Decimal `json:"rating"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventSimilarity is the outbound record for an unordered event pair.
// EventA < EventB always holds; Score lies in [0, 1].
type EventSimilarity struct {
	EventA    int64     `json:"event_a"`
	EventB    int64     `json:"event_b"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Other returns the endpoint of the pair that is not eventID.
func (s EventSimilarity) Other(eventID int64) int64 {
	if s.EventA == eventID {
		return s.EventB
	}
	return s.EventA
}

// RecommendedEvent is one ranked entry returned by the query API.
type RecommendedEvent struct {
	EventID int64   `json:"event_id"`
	Score   float64 `json:"score"`
}
