package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goalduel/server/internal/model"
)

type memUserRepo struct {
	mu       sync.Mutex
	outcomes map[string][]model.StatOutcome
	failAll  bool
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{outcomes: make(map[string][]model.StatOutcome)}
}

func (m *memUserRepo) GetByID(context.Context, string) (*model.User, error) { return nil, nil }

func (m *memUserRepo) ApplyOutcome(_ context.Context, userID string, outcome model.StatOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("db down")
	}
	m.outcomes[userID] = append(m.outcomes[userID], outcome)
	return nil
}

type memMatchRepo struct {
	mu        sync.Mutex
	created   []string
	finalized map[string]model.MatchResult
	failAll   bool
}

func newMemMatchRepo() *memMatchRepo {
	return &memMatchRepo{finalized: make(map[string]model.MatchResult)}
}

func (m *memMatchRepo) Create(_ context.Context, id string, _, _ model.MatchPlayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("db down")
	}
	m.created = append(m.created, id)
	return nil
}

func (m *memMatchRepo) Finalize(_ context.Context, id string, result model.MatchResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errors.New("db down")
	}
	if _, done := m.finalized[id]; done {
		return false, nil
	}
	m.finalized[id] = result
	return true, nil
}

func testMatchPlayers() [2]model.MatchPlayer {
	return [2]model.MatchPlayer{
		{UserID: "user-a", Wallet: "0xaa00000000000000000000000000000000000000", Seat: model.SeatP1},
		{UserID: "user-b", Wallet: "0xbb00000000000000000000000000000000000000", Seat: model.SeatP2},
	}
}

func TestCoordinatorCreateMatch(t *testing.T) {
	matches := newMemMatchRepo()
	coord := NewCoordinator(newMemUserRepo(), matches)
	players := testMatchPlayers()

	id := coord.CreateMatch(context.Background(), players[0], players[1])
	if id == "" {
		t.Fatal("CreateMatch returned empty id")
	}
	if len(matches.created) != 1 || matches.created[0] != id {
		t.Errorf("created = %v", matches.created)
	}
}

func TestCoordinatorCreateMatchFailureDegrades(t *testing.T) {
	matches := newMemMatchRepo()
	matches.failAll = true
	coord := NewCoordinator(newMemUserRepo(), matches)
	players := testMatchPlayers()

	// the match still runs, just unrecorded
	if id := coord.CreateMatch(context.Background(), players[0], players[1]); id != "" {
		t.Errorf("id = %q; want empty on create failure", id)
	}
}

func TestCoordinatorFinalizeOnce(t *testing.T) {
	users := newMemUserRepo()
	matches := newMemMatchRepo()
	coord := NewCoordinator(users, matches)
	players := testMatchPlayers()

	result := model.MatchResult{
		WinnerUserID: "user-a",
		Outcome:      model.OutcomeP1Wins,
		FinalScore:   model.Score{P1: 2, P2: 1},
		DurationMs:   60000,
	}

	coord.FinalizeMatch(context.Background(), "m-1", players, result)
	coord.FinalizeMatch(context.Background(), "m-1", players, result)

	if got := users.outcomes["user-a"]; len(got) != 1 || got[0] != model.StatWin {
		t.Errorf("user-a outcomes = %v; want one win", got)
	}
	if got := users.outcomes["user-b"]; len(got) != 1 || got[0] != model.StatLoss {
		t.Errorf("user-b outcomes = %v; want one loss", got)
	}
	if len(matches.finalized) != 1 {
		t.Errorf("finalized = %d matches; want 1", len(matches.finalized))
	}
}

func TestCoordinatorFinalizeDrawAndAbandoned(t *testing.T) {
	for _, outcome := range []model.Outcome{model.OutcomeDraw, model.OutcomeAbandoned} {
		users := newMemUserRepo()
		coord := NewCoordinator(users, newMemMatchRepo())
		players := testMatchPlayers()

		coord.FinalizeMatch(context.Background(), "m-1", players, model.MatchResult{Outcome: outcome})

		for _, u := range []string{"user-a", "user-b"} {
			if got := users.outcomes[u]; len(got) != 1 || got[0] != model.StatDraw {
				t.Errorf("%s: %s outcomes = %v; want one draw", outcome, u, got)
			}
		}
	}
}

func TestCoordinatorFinalizeSkipsUnrecordedMatch(t *testing.T) {
	users := newMemUserRepo()
	matches := newMemMatchRepo()
	coord := NewCoordinator(users, matches)

	coord.FinalizeMatch(context.Background(), "", testMatchPlayers(), model.MatchResult{Outcome: model.OutcomeDraw})

	if len(matches.finalized) != 0 {
		t.Error("finalize ran for an unrecorded match")
	}
	if len(users.outcomes) != 0 {
		t.Error("stats applied for an unrecorded match")
	}
}

func TestCoordinatorNilReposAreSafe(t *testing.T) {
	coord := NewCoordinator(nil, nil)
	players := testMatchPlayers()

	if id := coord.CreateMatch(context.Background(), players[0], players[1]); id != "" {
		t.Errorf("id = %q; want empty in db-less mode", id)
	}
	coord.FinalizeMatch(context.Background(), "m-1", players, model.MatchResult{Outcome: model.OutcomeDraw})
}
