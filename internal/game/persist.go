package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goalduel/server/internal/model"
)

// UserRepo is the user store consumed by the match core.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	ApplyOutcome(ctx context.Context, userID string, outcome model.StatOutcome) error
}

// MatchRepo is the match record store consumed by the match core.
type MatchRepo interface {
	Create(ctx context.Context, id string, p1, p2 model.MatchPlayer) error
	Finalize(ctx context.Context, id string, result model.MatchResult) (bool, error)
}

// Coordinator writes match records and stat deltas. All failures are logged
// and contained: persistence never alters the user-visible game outcome.
// Repos may be nil (db-less mode), in which case every call degrades to a
// debug log.
type Coordinator struct {
	users   UserRepo
	matches MatchRepo
	timeout time.Duration
}

// NewCoordinator creates a persistence coordinator. Either repo may be nil.
func NewCoordinator(users UserRepo, matches MatchRepo) *Coordinator {
	return &Coordinator{users: users, matches: matches, timeout: 3 * time.Second}
}

// CreateMatch records a new match in playing status and returns its id.
// On failure the match proceeds unrecorded: the empty id is returned and
// the error is logged.
func (c *Coordinator) CreateMatch(ctx context.Context, p1, p2 model.MatchPlayer) string {
	if c.matches == nil {
		slog.Debug("persistence disabled, match not recorded", "p1", p1.UserID, "p2", p2.UserID)
		return ""
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.matches.Create(ctx, id, p1, p2); err != nil {
		slog.Error("create match", "p1", p1.UserID, "p2", p2.UserID, "error", err)
		return ""
	}
	return id
}

// FinalizeMatch writes the final result exactly once and applies per-user
// stat deltas. Safe against repeated calls: the repository guard makes the
// second call a no-op, and stats are only applied when this call performed
// the transition.
func (c *Coordinator) FinalizeMatch(ctx context.Context, matchID string, players [2]model.MatchPlayer, result model.MatchResult) {
	if c.matches == nil || matchID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	transitioned, err := c.matches.Finalize(ctx, matchID, result)
	if err != nil {
		slog.Error("finalize match", "match", matchID, "error", err)
		return
	}
	if !transitioned {
		slog.Debug("match already finalized", "match", matchID)
		return
	}

	slog.Info("match finalized",
		"match", matchID,
		"outcome", result.Outcome,
		"score", result.FinalScore,
		"durationMs", result.DurationMs)

	c.applyStats(ctx, players, result.Outcome)
}

// applyStats increments each participant's counters. Failures are logged;
// stats are eventually consistent.
func (c *Coordinator) applyStats(ctx context.Context, players [2]model.MatchPlayer, outcome model.Outcome) {
	if c.users == nil {
		return
	}
	for _, p := range players {
		if err := c.users.ApplyOutcome(ctx, p.UserID, model.StatOutcomeFor(outcome, p.Seat)); err != nil {
			slog.Error("apply user stats", "user", p.UserID, "match_outcome", outcome, "error", err)
		}
	}
}
