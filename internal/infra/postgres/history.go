package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizbeam-client/internal/domain"
)

// ErrResultNotFound is returned when no archived result matches a session.
var ErrResultNotFound = errors.New("session result not found")

const defaultHistoryLimit = 20

// HistoryReader lists previously archived session results.
type HistoryReader struct {
	pool *pgxpool.Pool
}

func NewHistoryReader(pool *pgxpool.Pool) *HistoryReader {
	return &HistoryReader{pool: pool}
}

// ListResults returns the most recently ended sessions, newest first.
func (h *HistoryReader) ListResults(ctx context.Context, limit int) ([]domain.SessionResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := h.pool.Query(ctx, `
		SELECT session_id, join_code, ended_at, participant_id, nickname, score, rank, leaderboard
		FROM session_results
		ORDER BY ended_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session results: %w", err)
	}
	defer rows.Close()

	var results []domain.SessionResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session results: %w", err)
	}
	return results, nil
}

// GetResult returns the archived result for one session.
func (h *HistoryReader) GetResult(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	row := h.pool.QueryRow(ctx, `
		SELECT session_id, join_code, ended_at, participant_id, nickname, score, rank, leaderboard
		FROM session_results
		WHERE session_id = $1
		ORDER BY ended_at DESC, id DESC
		LIMIT 1`, sessionID)

	result, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionResult{}, fmt.Errorf("%w: %s", ErrResultNotFound, sessionID)
	}
	return result, err
}

func scanResult(row pgx.Row) (domain.SessionResult, error) {
	var (
		result domain.SessionResult
		raw    []byte
	)
	err := row.Scan(
		&result.SessionID,
		&result.JoinCode,
		&result.EndedAt,
		&result.Self.ParticipantID,
		&result.Self.Nickname,
		&result.Self.Score,
		&result.Self.Rank,
		&raw,
	)
	if err != nil {
		return domain.SessionResult{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result.Leaderboard); err != nil {
			return domain.SessionResult{}, fmt.Errorf("failed to decode leaderboard: %w", err)
		}
	}
	return result, nil
}
