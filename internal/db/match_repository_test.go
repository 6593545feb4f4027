package db_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/goalduel/server/internal/db"
	"github.com/goalduel/server/internal/model"
	"github.com/goalduel/server/internal/testutil"
)

func TestMatchRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	pool := testutil.SetupTestDB(t)
	matches := db.NewPostgresMatchRepository(pool)
	users := db.NewPostgresUserRepository(pool)
	ctx := context.Background()

	p1 := model.MatchPlayer{UserID: "user-a", Wallet: "0xaa00000000000000000000000000000000000000", Seat: model.SeatP1}
	p2 := model.MatchPlayer{UserID: "user-b", Wallet: "0xbb00000000000000000000000000000000000000", Seat: model.SeatP2}
	require.NoError(t, users.Create(ctx, p1.UserID, p1.Wallet))
	require.NoError(t, users.Create(ctx, p2.UserID, p2.Wallet))

	matchID := uuid.NewString()

	t.Run("create starts in playing", func(t *testing.T) {
		require.NoError(t, matches.Create(ctx, matchID, p1, p2))

		m, err := matches.GetByID(ctx, matchID)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Equal(t, model.MatchPlaying, m.Status)
		require.Equal(t, p1.UserID, m.Players[0].UserID)
		require.Equal(t, p2.UserID, m.Players[1].UserID)
		require.Zero(t, m.Result.DurationMs)
	})

	t.Run("missing match returns nil", func(t *testing.T) {
		m, err := matches.GetByID(ctx, uuid.NewString())
		require.NoError(t, err)
		require.Nil(t, m)
	})

	t.Run("finalize transitions once", func(t *testing.T) {
		result := model.MatchResult{
			WinnerUserID: p1.UserID,
			Outcome:      model.OutcomeP1Wins,
			FinalScore:   model.Score{P1: 3, P2: 1},
			DurationMs:   60000,
		}

		transitioned, err := matches.Finalize(ctx, matchID, result)
		require.NoError(t, err)
		require.True(t, transitioned)

		// the repeat is a no-op: the record keeps the first result
		transitioned, err = matches.Finalize(ctx, matchID, model.MatchResult{
			Outcome:    model.OutcomeDraw,
			FinalScore: model.Score{},
			DurationMs: 1,
		})
		require.NoError(t, err)
		require.False(t, transitioned)

		m, err := matches.GetByID(ctx, matchID)
		require.NoError(t, err)
		require.Equal(t, model.MatchFinished, m.Status)
		require.Equal(t, model.OutcomeP1Wins, m.Result.Outcome)
		require.Equal(t, p1.UserID, m.Result.WinnerUserID)
		require.Equal(t, model.Score{P1: 3, P2: 1}, m.Result.FinalScore)
		require.EqualValues(t, 60000, m.Result.DurationMs)
		require.False(t, m.EndedAt.IsZero())
	})

	t.Run("draw leaves winner null", func(t *testing.T) {
		drawID := uuid.NewString()
		require.NoError(t, matches.Create(ctx, drawID, p1, p2))

		transitioned, err := matches.Finalize(ctx, drawID, model.MatchResult{
			Outcome:    model.OutcomeDraw,
			FinalScore: model.Score{P1: 2, P2: 2},
			DurationMs: 60000,
		})
		require.NoError(t, err)
		require.True(t, transitioned)

		m, err := matches.GetByID(ctx, drawID)
		require.NoError(t, err)
		require.Empty(t, m.Result.WinnerUserID)
		require.Equal(t, model.OutcomeDraw, m.Result.Outcome)
	})
}
