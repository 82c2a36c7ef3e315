package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAdapter_CommitUpdate(t *testing.T) {
	ts := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	interaction := v1.Interaction{
		UserID:    1,
		EventID:   20,
		Rating:    decimal.RequireFromString("1.0"),
		Timestamp: ts,
	}
	similarities := []v1.EventSimilarity{
		{EventA: 10, EventB: 20, Score: 0.75, Timestamp: ts},
		{EventA: 20, EventB: 30, Score: 0.5, Timestamp: ts},
	}

	tests := []struct {
		name     string
		sims     []v1.EventSimilarity
		setup    func(mock sqlmock.Sqlmock)
		errorMsg string
	}{
		{
			name: "writes interaction and similarities in one transaction",
			sims: similarities,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertInteraction)).
					WithArgs(int64(1), int64(20), interaction.Rating.String(), ts).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertSimilarity))
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertSimilarity)).
					WithArgs(int64(10), int64(20), 0.75, ts).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertSimilarity)).
					WithArgs(int64(20), int64(30), 0.5, ts).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "first interaction of a user has no similarities",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertInteraction)).
					WithArgs(int64(1), int64(20), interaction.Rating.String(), ts).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "similarity failure rolls back",
			sims: similarities,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertInteraction)).
					WithArgs(int64(1), int64(20), interaction.Rating.String(), ts).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertSimilarity))
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertSimilarity)).
					WithArgs(int64(10), int64(20), 0.75, ts).
					WillReturnError(errors.New("deadlock detected"))
				mock.ExpectRollback()
			},
			errorMsg: "upsert similarity (10, 20)",
		},
		{
			name: "commit failure is reported",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(queryUpsertInteraction)).
					WithArgs(int64(1), int64(20), interaction.Rating.String(), ts).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit().WillReturnError(errors.New("connection lost"))
			},
			errorMsg: "commit update: commit",
		},
		{
			name: "begin failure is reported",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
			},
			errorMsg: "begin tx",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			tc.setup(mock)

			err := adapter.CommitUpdate(context.Background(), interaction, tc.sims)
			if tc.errorMsg == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tc.errorMsg)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
