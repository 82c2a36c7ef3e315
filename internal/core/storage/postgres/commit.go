package postgres

import (
	"context"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
)

// CommitUpdate writes one interaction and the similarity records it produced in a
// single transaction. Either every row lands or none does, which is what lets the
// aggregator keep memory untouched on failure and retry the whole update.
func (a *Adapter) CommitUpdate(ctx context.Context, interaction v1.Interaction, similarities []v1.EventSimilarity) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit update: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, queryUpsertInteraction,
		interaction.UserID,
		interaction.EventID,
		interaction.Rating.String(),
		interaction.Timestamp,
	); err != nil {
		return fmt.Errorf("commit update: upsert interaction (%d, %d): %w",
			interaction.UserID, interaction.EventID, err)
	}

	if len(similarities) > 0 {
		upsertStmt, err := tx.PrepareContext(ctx, queryUpsertSimilarity)
		if err != nil {
			return fmt.Errorf("commit update: prepare similarity upsert: %w", err)
		}
		defer upsertStmt.Close()

		for _, sim := range similarities {
			if _, err := upsertStmt.ExecContext(ctx, sim.EventA, sim.EventB, sim.Score, sim.Timestamp); err != nil {
				return fmt.Errorf("commit update: upsert similarity (%d, %d): %w", sim.EventA, sim.EventB, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: commit: %w", err)
	}

	slog.Debug("[Postgres] Committed update",
		"user_id", interaction.UserID,
		"event_id", interaction.EventID,
		"rating", interaction.Rating.String(),
		"similarities", len(similarities))
	return nil
}
