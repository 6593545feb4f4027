package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goalduel/server/internal/model"
)

// PostgresUserRepository implements user lookups and stat updates.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a PostgreSQL user repository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// GetByID returns a user by id.
// Returns nil, nil if the user does not exist.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, wallet_address, wins, losses, draws, total_matches, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Wallet, &u.Stats.Wins, &u.Stats.Losses, &u.Stats.Draws, &u.Stats.TotalMatches, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user %q: %w", id, err)
	}
	return &u, nil
}

// GetByWallet returns a user by wallet address (case-insensitive).
// Returns nil, nil if the user does not exist.
func (r *PostgresUserRepository) GetByWallet(ctx context.Context, wallet string) (*model.User, error) {
	wallet = strings.ToLower(wallet)
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, wallet_address, wins, losses, draws, total_matches, created_at
		 FROM users WHERE wallet_address = $1`, wallet,
	).Scan(&u.ID, &u.Wallet, &u.Stats.Wins, &u.Stats.Losses, &u.Stats.Draws, &u.Stats.TotalMatches, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by wallet %q: %w", wallet, err)
	}
	return &u, nil
}

// Create inserts a new user.
func (r *PostgresUserRepository) Create(ctx context.Context, id, wallet string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, wallet_address, created_at) VALUES ($1, $2, $3)`,
		id, strings.ToLower(wallet), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("creating user %q: %w", id, err)
	}
	return nil
}

// ApplyOutcome increments the stat column for one finalized match.
// A single UPDATE keeps the counters atomic under concurrent finishes.
func (r *PostgresUserRepository) ApplyOutcome(ctx context.Context, userID string, outcome model.StatOutcome) error {
	var column string
	switch outcome {
	case model.StatWin:
		column = "wins"
	case model.StatLoss:
		column = "losses"
	case model.StatDraw:
		column = "draws"
	default:
		return fmt.Errorf("unknown stat outcome %q", outcome)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET `+column+` = `+column+` + 1, total_matches = total_matches + 1
		 WHERE id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("updating stats for %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating stats for %q: user not found", userID)
	}
	return nil
}
