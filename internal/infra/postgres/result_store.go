// Package postgres archives finished session results. Writes go through
// bun so they share the migration tooling; reads use pgx directly.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizbeam-client/internal/domain"
)

// OpenDB dials Postgres at dsn and wraps the connection for bun.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type resultRow struct {
	bun.BaseModel `bun:"table:session_results,alias:sr"`

	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     string    `bun:"session_id,notnull"`
	JoinCode      string    `bun:"join_code"`
	EndedAt       time.Time `bun:"ended_at,notnull"`
	ParticipantID string    `bun:"participant_id,notnull"`
	Nickname      string    `bun:"nickname"`
	Score         int       `bun:"score"`
	Rank          int       `bun:"rank"`
	Leaderboard   []byte    `bun:"leaderboard,type:jsonb"`
}

// ResultStore persists session results. It satisfies archive.Writer.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult inserts one result row. A session already archived for the
// same participant is left untouched, so replays after a crash are safe.
func (s *ResultStore) SaveResult(ctx context.Context, result domain.SessionResult) error {
	board := result.Leaderboard
	if board == nil {
		board = []domain.LeaderboardEntry{}
	}
	raw, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to encode leaderboard: %w", err)
	}

	row := &resultRow{
		SessionID:     result.SessionID,
		JoinCode:      result.JoinCode,
		EndedAt:       result.EndedAt,
		ParticipantID: result.Self.ParticipantID,
		Nickname:      result.Self.Nickname,
		Score:         result.Self.Score,
		Rank:          result.Self.Rank,
		Leaderboard:   raw,
	}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id, participant_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert session result: %w", err)
	}
	return nil
}
