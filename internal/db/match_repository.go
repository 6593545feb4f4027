package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goalduel/server/internal/model"
)

// PostgresMatchRepository implements match record persistence.
type PostgresMatchRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresMatchRepository creates a PostgreSQL match repository.
func NewPostgresMatchRepository(pool *pgxpool.Pool) *PostgresMatchRepository {
	return &PostgresMatchRepository{pool: pool}
}

// Create inserts a new match record in playing status.
func (r *PostgresMatchRepository) Create(ctx context.Context, id string, p1, p2 model.MatchPlayer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO matches (id, p1_user_id, p1_wallet, p2_user_id, p2_wallet, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, p1.UserID, p1.Wallet, p2.UserID, p2.Wallet, model.MatchPlaying, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("creating match %q: %w", id, err)
	}
	return nil
}

// GetByID returns a match record.
// Returns nil, nil if the match does not exist.
func (r *PostgresMatchRepository) GetByID(ctx context.Context, id string) (*model.MatchRecord, error) {
	var (
		m       model.MatchRecord
		outcome *string
		winner  *string
		durMs   *int64
		ended   *time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, p1_user_id, p1_wallet, p1_goals, p2_user_id, p2_wallet, p2_goals,
		        status, outcome, winner_user_id, duration_ms, started_at, ended_at
		 FROM matches WHERE id = $1`, id,
	).Scan(
		&m.ID,
		&m.Players[0].UserID, &m.Players[0].Wallet, &m.Players[0].Goals,
		&m.Players[1].UserID, &m.Players[1].Wallet, &m.Players[1].Goals,
		&m.Status, &outcome, &winner, &durMs, &m.StartedAt, &ended,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying match %q: %w", id, err)
	}

	m.Players[0].Seat = model.SeatP1
	m.Players[1].Seat = model.SeatP2
	if outcome != nil {
		m.Result.Outcome = model.Outcome(*outcome)
	}
	if winner != nil {
		m.Result.WinnerUserID = *winner
	}
	if durMs != nil {
		m.Result.DurationMs = *durMs
	}
	if ended != nil {
		m.EndedAt = *ended
	}
	m.Result.FinalScore = model.Score{P1: m.Players[0].Goals, P2: m.Players[1].Goals}
	return &m, nil
}

// Finalize writes the final result exactly once.
// The WHERE guard makes repeated calls no-ops; the bool result reports
// whether this call performed the transition.
func (r *PostgresMatchRepository) Finalize(ctx context.Context, id string, result model.MatchResult) (bool, error) {
	var winner *string
	if result.WinnerUserID != "" {
		winner = &result.WinnerUserID
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE matches
		 SET status = $2, outcome = $3, winner_user_id = $4,
		     p1_goals = $5, p2_goals = $6, duration_ms = $7, ended_at = $8
		 WHERE id = $1 AND status <> $2`,
		id, model.MatchFinished, result.Outcome, winner,
		result.FinalScore.P1, result.FinalScore.P2, result.DurationMs, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("finalizing match %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
