package postgres

import (
	"fmt"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanInteractionRow scans (user_id, event_id, rating, action_ts).
// rating is read as text so NUMERIC precision survives the round trip.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanInteractionRow(row scanner) (v1.Interaction, error) {
	var in v1.Interaction
	var ratingStr string

	if err := row.Scan(&in.UserID, &in.EventID, &ratingStr, &in.Timestamp); err != nil {
		return v1.Interaction{}, fmt.Errorf("failed to scan interaction row: %w", err)
	}

	rating, err := parseDecimal(ratingStr)
	if err != nil {
		return v1.Interaction{}, err
	}
	in.Rating = rating
	in.Timestamp = in.Timestamp.UTC()
	return in, nil
}

func scanSimilarityRow(row scanner) (v1.EventSimilarity, error) {
	var sim v1.EventSimilarity
	if err := row.Scan(&sim.EventA, &sim.EventB, &sim.Score, &sim.Timestamp); err != nil {
		return v1.EventSimilarity{}, fmt.Errorf("failed to scan similarity row: %w", err)
	}
	sim.Timestamp = sim.Timestamp.UTC()
	return sim, nil
}

// idArray binds an id list as a bigint[] parameter. A nil slice would bind SQL NULL,
// which makes "= ANY" yield NULL instead of false, so it is replaced by an empty array.
func idArray(ids []int64) interface{} {
	if ids == nil {
		ids = []int64{}
	}
	return pq.Array(ids)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse numeric %q: %w", s, err)
	}
	return d, nil
}
