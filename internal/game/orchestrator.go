package game

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/goalduel/server/internal/config"
	"github.com/goalduel/server/internal/model"
)

// Orchestrator drives room lifecycles: it owns the registry, starts the
// per-room match clock and rematch timer goroutines, and funnels every
// finish into the persistence coordinator exactly once.
type Orchestrator struct {
	cfg   config.GameConfig
	rooms *Registry
	coord *Coordinator

	// baseCtx bounds background persistence I/O started from lifecycle
	// goroutines. Cancelled on server shutdown.
	baseCtx context.Context
}

// NewOrchestrator creates the match orchestrator.
func NewOrchestrator(ctx context.Context, cfg config.GameConfig, coord *Coordinator, rng *rand.Rand) *Orchestrator {
	if ctx == nil {
		ctx = context.Background()
	}
	codeLen := cfg.CodeLength
	if codeLen <= 0 {
		codeLen = DefaultCodeLength
	}
	return &Orchestrator{
		cfg:     cfg,
		rooms:   NewRegistry(codeLen, cfg.MatchDuration, rng),
		coord:   coord,
		baseCtx: ctx,
	}
}

// Rooms exposes the registry for lookups and tests.
func (o *Orchestrator) Rooms() *Registry { return o.rooms }

// roomOf resolves the sender's room or ErrNotInRoom.
func (o *Orchestrator) roomOf(sub Subscriber) (*Room, error) {
	room := o.rooms.ByMember(sub.ID())
	if room == nil {
		return nil, ErrNotInRoom
	}
	return room, nil
}

// sendTo delivers an event to one subscriber, detaching is the session
// layer's concern: a send failure here is only logged.
func sendTo(sub Subscriber, msg Message) {
	if err := sub.Send(msg); err != nil {
		slog.Warn("send failed", "session", sub.ID(), "kind", msg.Kind, "error", err)
	}
}

// broadcast fans an event out to every occupant, optionally skipping the
// session named by exceptID. Callers hold the room's egress lock, so the
// fan-out order matches the decision order.
func (o *Orchestrator) broadcast(room *Room, msg Message, exceptID string) {
	room.mu.Lock()
	subs := make([]Subscriber, 0, 2)
	if room.p1 != nil {
		subs = append(subs, room.p1.Sub)
	}
	if room.p2 != nil {
		subs = append(subs, room.p2.Sub)
	}
	room.mu.Unlock()

	for _, sub := range subs {
		if sub.ID() == exceptID {
			continue
		}
		sendTo(sub, msg)
	}
}

func (o *Orchestrator) roomState(room *Room) Message {
	return MustMessage(KindRoomState, RoomStatePayload{
		RoomID: room.ID(),
		Code:   room.Code(),
		Status: room.Status(),
		Seats:  room.SeatInfos(),
	})
}

func gameEnded(fin FinishResult) Message {
	return MustMessage(KindGameEnded, GameEndedPayload{
		Outcome:    fin.Result.Outcome,
		Winner:     fin.Result.WinnerUserID,
		FinalScore: fin.Result.FinalScore,
		DurationMs: fin.Result.DurationMs,
		MatchID:    fin.MatchID,
	})
}

// announceJoin runs from the registry join paths under the room's egress
// lock: the joiner gets room_joined plus a lobby snapshot, the other seat
// gets player_joined.
func (o *Orchestrator) announceJoin(room *Room, sub Subscriber, seat model.Seat, seats []SeatInfo) {
	sendTo(sub, MustMessage(KindRoomJoined, RoomJoinedPayload{
		RoomID: room.ID(),
		Code:   room.Code(),
		Seat:   seat,
		Seats:  seats,
	}))
	o.broadcast(room, MustMessage(KindPlayerJoined, PlayerJoinedPayload{
		Seat:   seat,
		UserID: sub.UserID(),
	}), sub.ID())
	sendTo(sub, o.roomState(room))
}

func (o *Orchestrator) joined(sub Subscriber) JoinedFunc {
	return func(room *Room, seat model.Seat, seats []SeatInfo) {
		o.announceJoin(room, sub, seat, seats)
	}
}

// FindMatch places the session into any open room or creates one.
func (o *Orchestrator) FindMatch(sub Subscriber) error {
	_, _, err := o.rooms.FindOrCreate(sub, o.joined(sub))
	return err
}

// CreateRoom creates a private room and returns its code via room_joined.
func (o *Orchestrator) CreateRoom(sub Subscriber) error {
	_, _, err := o.rooms.Create(sub, o.joined(sub))
	return err
}

// JoinByCode seats the session into the named room. A lost race for the
// last seat surfaces as room_full to the caller only.
func (o *Orchestrator) JoinByCode(sub Subscriber, code string) error {
	room, _, err := o.rooms.JoinByCode(sub, code, o.joined(sub))
	if err != nil {
		if room != nil && errors.Is(err, ErrRoomFull) {
			sendTo(sub, MustMessage(KindRoomFull, RoomFullPayload{RoomID: room.ID()}))
			return nil
		}
		return err
	}
	return nil
}

// Ready sets or toggles the sender's ready flag. When both seats are ready
// the match starts.
func (o *Orchestrator) Ready(sub Subscriber, ready *bool) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	defer room.egressMu.Unlock()

	change, err := room.SetReady(sub.ID(), ready)
	if err != nil {
		return err
	}

	o.broadcast(room, MustMessage(KindPlayerReadyState, ReadyStatePayload{
		Seat:     change.Seat,
		Ready:    change.Ready,
		AllReady: change.AllReady,
	}), "")

	if change.AllReady {
		o.startMatch(room)
	}
	return nil
}

// startMatch runs the waiting → playing side effects with the egress lock
// held: game_started goes out before anything the fresh match can decide.
// The persistence create runs in the background so a slow database never
// delays the start.
func (o *Orchestrator) startMatch(room *Room) {
	start, err := room.BeginMatch()
	if err != nil {
		// Lost a race with a leave between the ready check and here.
		slog.Debug("match start aborted", "room", room.ID(), "error", err)
		return
	}

	o.broadcast(room, MustMessage(KindGameStarted, GameStartedPayload{
		DurationMs: start.Duration.Milliseconds(),
	}), "")

	go o.recordMatchStart(room, start)
	go o.runClock(room, start.ClockStop)
}

// recordMatchStart creates the match row off the egress path. A failure
// degrades to an unrecorded match, never a blocked start.
func (o *Orchestrator) recordMatchStart(room *Room, start MatchStart) {
	matchID := o.coord.CreateMatch(o.baseCtx, start.Players[0], start.Players[1])
	room.SetMatchID(matchID)
	slog.Info("match started",
		"room", room.ID(),
		"match", matchID,
		"p1", start.Players[0].UserID,
		"p2", start.Players[1].UserID)
}

// runClock is the per-room match clock: one logical ticker that decrements
// the timer, emits second/threshold events and triggers the time-up finish.
// It stops within one tick of the room leaving playing.
func (o *Orchestrator) runClock(room *Room, stop <-chan struct{}) {
	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if o.tick(room) {
				return
			}
		}
	}
}

// tick advances the clock one step and emits its events. Returns true when
// the clock is done: the room left playing, or the match finished on time.
func (o *Orchestrator) tick(room *Room) bool {
	room.egressMu.Lock()

	res, ok := room.Tick(o.cfg.Tick)
	if !ok {
		room.egressMu.Unlock()
		return true
	}
	if res.SecondCrossed {
		o.broadcast(room, MustMessage(KindTimerUpdate, TimerUpdatePayload{
			TimeRemainingMs: res.RemainingMs,
		}), "")
	}
	if res.Warning != 0 {
		o.broadcast(room, MustMessage(KindTimerWarning, TimerWarningPayload{
			Threshold: res.Warning,
		}), "")
	}
	if !res.TimeUp {
		room.egressMu.Unlock()
		return false
	}

	o.broadcast(room, MustMessage(KindTimeUp, struct{}{}), "")
	fin, finished := room.FinishTimeUp()
	if finished {
		o.broadcast(room, gameEnded(fin), "")
	}
	room.egressMu.Unlock()

	if finished {
		o.finishSideEffects(room, fin)
	}
	return true
}

// finishSideEffects runs the off-lock finish work: the one-shot persistence
// write and the rematch window.
func (o *Orchestrator) finishSideEffects(room *Room, fin FinishResult) {
	o.coord.FinalizeMatch(o.baseCtx, fin.MatchID, fin.Players, fin.Result)
	go o.runRematchTimer(room, fin.Rematch)
}

// runRematchTimer disposes a finished room if the occupants don't agree to
// a rematch within the window.
func (o *Orchestrator) runRematchTimer(room *Room, cancel <-chan struct{}) {
	timer := time.NewTimer(o.cfg.RematchTimeout)
	defer timer.Stop()

	select {
	case <-cancel:
		return
	case <-timer.C:
		room.egressMu.Lock()
		if room.Status() != StatusFinished {
			// A confirm or decline won the race against the expiry.
			room.egressMu.Unlock()
			return
		}
		o.broadcast(room, MustMessage(KindRematchTimeout, struct{}{}), "")
		room.MarkDisposing()
		room.egressMu.Unlock()
		o.removeAfterGrace(room)
	}
}

// removeAfterGrace deletes the room once the dispose grace elapsed, giving
// the disposing notice time to drain.
func (o *Orchestrator) removeAfterGrace(room *Room) {
	grace := o.cfg.DisposeGrace
	if grace <= 0 {
		o.rooms.Remove(room.ID())
		return
	}
	time.AfterFunc(grace, func() {
		o.rooms.Remove(room.ID())
	})
}

// Position validates and relays a paddle update to the opponent.
func (o *Orchestrator) Position(sub Subscriber, p PositionPayload) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	defer room.egressMu.Unlock()

	if err := room.AcceptPosition(sub.ID(), p, o.cfg.MaxPositionStep); err != nil {
		return err
	}
	o.broadcast(room, MustMessage(KindPlayerPosition, p), sub.ID())
	return nil
}

// BallState validates and relays a ball update to the opponent.
func (o *Orchestrator) BallState(sub Subscriber, b BallPayload) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	defer room.egressMu.Unlock()

	if err := room.AcceptBall(sub.ID()); err != nil {
		return err
	}
	o.broadcast(room, MustMessage(KindBallState, b), sub.ID())
	return nil
}

// Goal validates a goal assertion, applies the score and announces it to
// both seats.
func (o *Orchestrator) Goal(sub Subscriber, g GoalPayload) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	defer room.egressMu.Unlock()

	score, err := room.ApplyGoal(sub.ID(), g.ScoringSeat)
	if err != nil {
		return err
	}
	o.broadcast(room, MustMessage(KindGoalScored, GoalScoredPayload{
		Scorer: g.ScoringSeat,
		Score:  score,
	}), "")
	return nil
}

// Leave removes the sender from their room. Mid-game the remaining seat is
// awarded the win; an emptied room is deleted.
func (o *Orchestrator) Leave(sub Subscriber, reason string) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	res, err := room.Leave(sub.ID())
	if err != nil {
		room.egressMu.Unlock()
		return err
	}

	o.broadcast(room, MustMessage(KindPlayerLeft, PlayerLeftPayload{
		Seat:   res.Seat,
		Reason: reason,
	}), sub.ID())
	if res.Finished != nil {
		o.broadcast(room, gameEnded(*res.Finished), "")
	}
	if res.Empty {
		room.MarkDisposing()
	}
	room.egressMu.Unlock()

	o.rooms.ReleaseMember(sub.ID())
	if res.Finished != nil {
		o.finishSideEffects(room, *res.Finished)
	}
	if res.Empty {
		o.rooms.Remove(room.ID())
	}
	return nil
}

// RequestRematch records the sender's rematch intent; when both occupants
// agree the room resets in place for a fresh ready round.
func (o *Orchestrator) RequestRematch(sub Subscriber) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	defer room.egressMu.Unlock()

	state, err := room.RequestRematch(sub.ID())
	if err != nil {
		return err
	}

	o.broadcast(room, MustMessage(KindRematchRequested, RematchSeatPayload{Seat: state.Seat}), sub.ID())

	if state.Both {
		if _, err := room.ResetForRematch(); err != nil {
			return err
		}
		o.broadcast(room, MustMessage(KindRematchConfirmed, struct{}{}), "")
		o.broadcast(room, o.roomState(room), "")
	}
	return nil
}

// DeclineRematch rejects the rematch window and disposes the room after the
// grace period.
func (o *Orchestrator) DeclineRematch(sub Subscriber) error {
	room, err := o.roomOf(sub)
	if err != nil {
		return err
	}

	room.egressMu.Lock()
	seat, err := room.DeclineRematch(sub.ID())
	if err != nil {
		room.egressMu.Unlock()
		return err
	}
	o.broadcast(room, MustMessage(KindRematchDeclined, RematchSeatPayload{Seat: seat}), sub.ID())
	room.MarkDisposing()
	room.egressMu.Unlock()

	o.removeAfterGrace(room)
	return nil
}

// Shutdown aborts every playing match as abandoned, notifies all occupants
// and disposes all rooms. New work is rejected by the transport layer.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	var rooms []*Room
	o.rooms.ForEach(func(r *Room) bool {
		rooms = append(rooms, r)
		return true
	})

	for _, room := range rooms {
		room.egressMu.Lock()
		o.broadcast(room, MustMessage(KindServerShutdown, struct{}{}), "")
		fin, aborted := room.Abort()
		if aborted {
			o.broadcast(room, gameEnded(fin), "")
		}
		room.MarkDisposing()
		room.egressMu.Unlock()

		if aborted {
			o.coord.FinalizeMatch(ctx, fin.MatchID, fin.Players, fin.Result)
		}
		o.rooms.Remove(room.ID())
	}
	slog.Info("orchestrator shut down", "rooms_disposed", len(rooms))
}
