package game

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goalduel/server/internal/config"
	"github.com/goalduel/server/internal/model"
)

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		MatchDuration:   300 * time.Millisecond,
		Tick:            10 * time.Millisecond,
		RematchTimeout:  time.Minute,
		DisposeGrace:    0,
		MaxPositionStep: 50,
		CodeLength:      6,
	}
}

func newTestOrchestrator(t *testing.T, cfg config.GameConfig) *Orchestrator {
	t.Helper()
	return NewOrchestrator(context.Background(), cfg, NewCoordinator(nil, nil), nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func boolPtr(b bool) *bool { return &b }

// startedPair brings two subscribers into one room and through the ready
// handshake into a running match.
func startedPair(t *testing.T, orch *Orchestrator) (*fakeSub, *fakeSub, *Room) {
	t.Helper()
	a, b := testSubs(t)

	if err := orch.FindMatch(a); err != nil {
		t.Fatalf("FindMatch(a): %v", err)
	}
	if err := orch.FindMatch(b); err != nil {
		t.Fatalf("FindMatch(b): %v", err)
	}

	if err := orch.Ready(a, boolPtr(true)); err != nil {
		t.Fatalf("Ready(a): %v", err)
	}
	if err := orch.Ready(b, boolPtr(true)); err != nil {
		t.Fatalf("Ready(b): %v", err)
	}

	room := orch.Rooms().ByMember(a.ID())
	if room == nil {
		t.Fatal("no room for a after matchmaking")
	}
	if room.Status() != StatusPlaying {
		t.Fatalf("Status = %s; want playing", room.Status())
	}
	return a, b, room
}

func TestOrchestratorMatchmaking(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b := testSubs(t)

	if err := orch.FindMatch(a); err != nil {
		t.Fatalf("FindMatch(a): %v", err)
	}
	if !a.received(KindRoomJoined) {
		t.Error("a missing room_joined")
	}
	if !a.received(KindRoomState) {
		t.Error("a missing room_state snapshot")
	}

	if err := orch.FindMatch(b); err != nil {
		t.Fatalf("FindMatch(b): %v", err)
	}
	if !b.received(KindRoomJoined) {
		t.Error("b missing room_joined")
	}
	if !a.received(KindPlayerJoined) {
		t.Error("a missing player_joined for b")
	}
	if b.received(KindPlayerJoined) {
		t.Error("b received player_joined about itself")
	}
	if orch.Rooms().Count() != 1 {
		t.Errorf("rooms = %d; want 1", orch.Rooms().Count())
	}
}

func TestOrchestratorSecondFindMatchRejected(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, _ := testSubs(t)
	orch.FindMatch(a)
	if err := orch.FindMatch(a); err != ErrAlreadyInRoom {
		t.Errorf("second FindMatch = %v; want ErrAlreadyInRoom", err)
	}
}

func TestOrchestratorJoinByCodeFull(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b := testSubs(t)
	c := newFakeSub("sess-c", "user-c", "0xcc00000000000000000000000000000000000000")

	if err := orch.CreateRoom(a); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	room := orch.Rooms().ByMember(a.ID())
	if err := orch.JoinByCode(b, room.Code()); err != nil {
		t.Fatalf("JoinByCode(b): %v", err)
	}

	// the loser of the seat race gets room_full, not an error
	if err := orch.JoinByCode(c, room.Code()); err != nil {
		t.Fatalf("JoinByCode(c): %v", err)
	}
	if !c.received(KindRoomFull) {
		t.Error("c missing room_full")
	}
	if c.received(KindRoomJoined) {
		t.Error("c received room_joined for a full room")
	}
}

func TestOrchestratorReadyStartsMatch(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b, _ := startedPair(t, orch)

	if a.countOf(KindPlayerReadyState) != 2 {
		t.Errorf("a ready events = %d; want 2", a.countOf(KindPlayerReadyState))
	}
	if !a.received(KindGameStarted) || !b.received(KindGameStarted) {
		t.Error("game_started not broadcast to both seats")
	}
}

func TestOrchestratorPositionRelay(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b, _ := startedPair(t, orch)

	if err := orch.Position(a, PositionPayload{Seat: model.SeatP1, X: 10}); err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !b.received(KindPlayerPosition) {
		t.Error("opponent missing relayed position")
	}
	if a.received(KindPlayerPosition) {
		t.Error("position echoed back to sender")
	}
}

func TestOrchestratorBallRelay(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b, _ := startedPair(t, orch)

	if err := orch.BallState(a, BallPayload{X: 1, Y: 2}); err != nil {
		t.Fatalf("BallState: %v", err)
	}
	if !b.received(KindBallState) {
		t.Error("opponent missing relayed ball state")
	}

	if err := orch.BallState(b, BallPayload{}); err != ErrBallAuthority {
		t.Errorf("non-authority ball = %v; want ErrBallAuthority", err)
	}
}

func TestOrchestratorGoalBroadcast(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b, room := startedPair(t, orch)

	if err := orch.Goal(a, GoalPayload{ScoringSeat: model.SeatP1}); err != nil {
		t.Fatalf("Goal: %v", err)
	}
	if !a.received(KindGoalScored) || !b.received(KindGoalScored) {
		t.Error("goal_scored not broadcast to both seats")
	}
	if room.Score() != (model.Score{P1: 1}) {
		t.Errorf("score = %+v; want p1=1", room.Score())
	}
}

func TestOrchestratorTimeUpFinish(t *testing.T) {
	cfg := testGameConfig()
	cfg.MatchDuration = 1100 * time.Millisecond // one whole-second crossing
	orch := newTestOrchestrator(t, cfg)
	a, b, room := startedPair(t, orch)

	waitFor(t, 2*time.Second, func() bool {
		return a.received(KindGameEnded) && b.received(KindGameEnded)
	}, "game_ended not broadcast after time up")

	if !a.received(KindTimeUp) {
		t.Error("a missing time_up")
	}
	if !a.received(KindTimerUpdate) {
		t.Error("a missing timer_update second crossings")
	}
	if room.Status() != StatusFinished {
		t.Errorf("Status = %s; want finished", room.Status())
	}
}

func TestOrchestratorZeroDurationMatch(t *testing.T) {
	cfg := testGameConfig()
	cfg.MatchDuration = 0
	orch := newTestOrchestrator(t, cfg)
	a, b := testSubs(t)

	if err := orch.FindMatch(a); err != nil {
		t.Fatalf("FindMatch(a): %v", err)
	}
	if err := orch.FindMatch(b); err != nil {
		t.Fatalf("FindMatch(b): %v", err)
	}
	room := orch.Rooms().ByMember(a.ID())
	if err := orch.Ready(a, boolPtr(true)); err != nil {
		t.Fatalf("Ready(a): %v", err)
	}
	if err := orch.Ready(b, boolPtr(true)); err != nil {
		t.Fatalf("Ready(b): %v", err)
	}

	// an empty clock finishes on the first tick
	waitFor(t, 2*time.Second, func() bool {
		return a.received(KindGameEnded) && b.received(KindGameEnded)
	}, "zero-length match did not end")

	if !a.received(KindGameStarted) {
		t.Error("a missing game_started")
	}
	if !a.received(KindTimeUp) {
		t.Error("a missing time_up")
	}
	if a.received(KindTimerUpdate) {
		t.Error("timer_update emitted with no whole second to cross")
	}
	if room.Status() != StatusFinished {
		t.Errorf("Status = %s; want finished", room.Status())
	}

	msg, ok := a.last(KindGameEnded)
	if !ok {
		t.Fatal("game_ended not recorded")
	}
	var ended GameEndedPayload
	if err := json.Unmarshal(msg.Payload, &ended); err != nil {
		t.Fatalf("decoding game_ended: %v", err)
	}
	if ended.Outcome != model.OutcomeDraw {
		t.Errorf("Outcome = %s; want draw", ended.Outcome)
	}
}

func TestOrchestratorGoalsOrderedWithFinish(t *testing.T) {
	cfg := testGameConfig()
	cfg.MatchDuration = 60 * time.Millisecond
	orch := newTestOrchestrator(t, cfg)
	a, b, _ := startedPair(t, orch)

	// hammer goals until the finish transition starts rejecting them
	done := make(chan struct{})
	go func() {
		defer close(done)
		for orch.Goal(a, GoalPayload{ScoringSeat: model.SeatP1}) == nil {
		}
	}()
	<-done

	waitFor(t, 2*time.Second, func() bool {
		return a.received(KindGameEnded) && b.received(KindGameEnded)
	}, "game_ended not broadcast")

	if b.countOf(KindGoalScored) == 0 {
		t.Fatal("no goals landed before the finish")
	}
	for name, sub := range map[string]*fakeSub{"a": a, "b": b} {
		kinds := sub.kinds()
		ended := -1
		for i, k := range kinds {
			if k == KindGameEnded {
				ended = i
			}
		}
		if ended == -1 {
			t.Fatalf("%s missing game_ended", name)
		}
		for i := ended + 1; i < len(kinds); i++ {
			if kinds[i] == KindGoalScored {
				t.Errorf("%s observed goal_scored after game_ended at index %d", name, i)
			}
		}
	}
}

func TestOrchestratorLeaveMidGame(t *testing.T) {
	cfg := testGameConfig()
	cfg.MatchDuration = time.Minute // leave well before time-up
	orch := newTestOrchestrator(t, cfg)
	a, b, room := startedPair(t, orch)

	if err := orch.Leave(b, "disconnect"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !a.received(KindPlayerLeft) {
		t.Error("a missing player_left")
	}
	if !a.received(KindGameEnded) {
		t.Error("a missing game_ended after opponent left")
	}
	if room.Status() != StatusFinished {
		t.Errorf("Status = %s; want finished", room.Status())
	}
	if orch.Rooms().ByMember(b.ID()) != nil {
		t.Error("leaver still indexed as a member")
	}
}

func TestOrchestratorRematchConfirm(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b, room := startedPair(t, orch)

	waitFor(t, 2*time.Second, func() bool {
		return room.Status() == StatusFinished
	}, "match did not finish")

	if err := orch.RequestRematch(a); err != nil {
		t.Fatalf("RequestRematch(a): %v", err)
	}
	if !b.received(KindRematchRequested) {
		t.Error("b missing rematch_requested")
	}
	if a.received(KindRematchRequested) {
		t.Error("rematch_requested echoed to requester")
	}

	if err := orch.RequestRematch(b); err != nil {
		t.Fatalf("RequestRematch(b): %v", err)
	}
	if !a.received(KindRematchConfirmed) || !b.received(KindRematchConfirmed) {
		t.Error("rematch_confirmed not broadcast to both")
	}
	if room.Status() != StatusWaiting {
		t.Errorf("Status = %s; want waiting after rematch", room.Status())
	}
}

func TestOrchestratorRematchDecline(t *testing.T) {
	orch := newTestOrchestrator(t, testGameConfig())
	a, b, room := startedPair(t, orch)

	waitFor(t, 2*time.Second, func() bool {
		return room.Status() == StatusFinished
	}, "match did not finish")

	if err := orch.DeclineRematch(b); err != nil {
		t.Fatalf("DeclineRematch: %v", err)
	}
	if !a.received(KindRematchDeclined) {
		t.Error("a missing rematch_declined")
	}

	// DisposeGrace is zero: the room is removed synchronously
	waitFor(t, time.Second, func() bool {
		return orch.Rooms().Count() == 0
	}, "declined room not disposed")
}

func TestOrchestratorRematchTimeout(t *testing.T) {
	cfg := testGameConfig()
	cfg.RematchTimeout = 50 * time.Millisecond
	orch := newTestOrchestrator(t, cfg)
	a, _, room := startedPair(t, orch)

	waitFor(t, 2*time.Second, func() bool {
		return room.Status() == StatusFinished
	}, "match did not finish")

	waitFor(t, 2*time.Second, func() bool {
		return a.received(KindRematchTimeout)
	}, "rematch_timeout not broadcast")

	waitFor(t, time.Second, func() bool {
		return orch.Rooms().Count() == 0
	}, "timed-out room not disposed")
}

func TestOrchestratorShutdown(t *testing.T) {
	cfg := testGameConfig()
	cfg.MatchDuration = time.Minute
	orch := newTestOrchestrator(t, cfg)
	a, b, _ := startedPair(t, orch)

	orch.Shutdown(context.Background())

	if !a.received(KindServerShutdown) || !b.received(KindServerShutdown) {
		t.Error("server_shutdown not broadcast")
	}
	if !a.received(KindGameEnded) {
		t.Error("playing match not ended on shutdown")
	}
	if orch.Rooms().Count() != 0 {
		t.Errorf("rooms = %d after shutdown; want 0", orch.Rooms().Count())
	}
}
