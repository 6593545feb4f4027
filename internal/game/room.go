// Package game implements the match core: two-seat rooms with a strict
// lifecycle (waiting → playing → finished → rematch/disposal), the per-room
// match clock, ingress validation and outcome persistence.
package game

import (
	"sync"
	"time"

	"github.com/goalduel/server/internal/model"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusFinished  Status = "finished"
	StatusDisposing Status = "disposing"
)

// Subscriber is one connected occupant of a room. The server's session type
// implements it; seats hold this interface so the core never reaches into
// transport state.
type Subscriber interface {
	ID() string
	UserID() string
	Wallet() string
	Send(msg Message) error
}

// Occupant is a seated subscriber with its per-room flags.
type Occupant struct {
	Sub              Subscriber
	Ready            bool
	RematchRequested bool

	// Last accepted position, reference for the advisory movement cap.
	lastPos  *PositionPayload
	hasMoved bool
}

// Timer warning thresholds, seconds remaining. Each fires once per match.
var warnThresholds = []int{30, 10}

// Room is the unit of concurrency: all mutation happens under its mutex, and
// a single lifecycle goroutine drives its clock. Seats reference sessions
// through the Subscriber interface; the registries own the actual objects.
type Room struct {
	mu sync.Mutex

	// egressMu serializes the room's fan-out with the decisions that
	// produce it: a sender holds it across decide-then-enqueue, so clients
	// observe events in the order the room decided them. Lock order is
	// always egressMu before mu, never the reverse.
	egressMu sync.Mutex

	id   string
	code string

	status        Status
	p1, p2        *Occupant
	score         model.Score
	ballAuthority model.Seat

	matchDuration time.Duration
	timeRemaining time.Duration
	lastWholeSec  int64
	warned        map[int]bool

	matchID      string
	matchPlayers [2]model.MatchPlayer // identity snapshot taken at start
	createdAt    time.Time
	startedAt    time.Time

	// clockStop is created per match and closed on finish so a running
	// clock goroutine never delivers stale ticks.
	clockStop chan struct{}
	// rematchStop is created on finish and closed when the rematch window
	// resolves (agree, decline or timeout).
	rematchStop chan struct{}
}

// NewRoom creates an empty waiting room.
func NewRoom(id, code string, matchDuration time.Duration) *Room {
	return &Room{
		id:            id,
		code:          code,
		status:        StatusWaiting,
		ballAuthority: model.SeatP1,
		matchDuration: matchDuration,
		timeRemaining: matchDuration,
		warned:        make(map[int]bool, len(warnThresholds)),
		createdAt:     time.Now(),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Code returns the shareable join code.
func (r *Room) Code() string { return r.code }

// Status returns the current lifecycle state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// BallAuthority returns the seat permitted to assert ball state and goals.
// Constant within a match, preserved across rematches.
func (r *Room) BallAuthority() model.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ballAuthority
}

// Score returns the current goal count.
func (r *Room) Score() model.Score {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// TimeRemaining returns the match clock value.
func (r *Room) TimeRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeRemaining
}

// MatchID returns the persisted match id ("" when persistence is off or the
// room has not started).
func (r *Room) MatchID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchID
}

func (r *Room) occupant(seat model.Seat) *Occupant {
	if seat == model.SeatP1 {
		return r.p1
	}
	return r.p2
}

func (r *Room) seatOf(sessionID string) (model.Seat, *Occupant) {
	if r.p1 != nil && r.p1.Sub.ID() == sessionID {
		return model.SeatP1, r.p1
	}
	if r.p2 != nil && r.p2.Sub.ID() == sessionID {
		return model.SeatP2, r.p2
	}
	return "", nil
}

// SeatOf returns the seat held by the given session, or false.
func (r *Room) SeatOf(sessionID string) (model.Seat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, occ := r.seatOf(sessionID)
	return seat, occ != nil
}

// Opponent returns the subscriber seated opposite the given session.
func (r *Room) Opponent(sessionID string) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return nil, false
	}
	other := r.occupant(seat.Other())
	if other == nil {
		return nil, false
	}
	return other.Sub, true
}

func (r *Room) seatInfosLocked() []SeatInfo {
	infos := make([]SeatInfo, 0, 2)
	if r.p1 != nil {
		infos = append(infos, SeatInfo{Seat: model.SeatP1, UserID: r.p1.Sub.UserID(), Ready: r.p1.Ready})
	}
	if r.p2 != nil {
		infos = append(infos, SeatInfo{Seat: model.SeatP2, UserID: r.p2.Sub.UserID(), Ready: r.p2.Ready})
	}
	return infos
}

// SeatInfos returns the lobby view of the occupied seats.
func (r *Room) SeatInfos() []SeatInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatInfosLocked()
}

// Join seats a subscriber: first occupant becomes p1, second p2.
// Returns ErrRoomFull when both seats are taken or the room is not waiting.
func (r *Room) Join(sub Subscriber) (model.Seat, []SeatInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusWaiting {
		return "", nil, ErrRoomFull
	}
	occ := &Occupant{Sub: sub}
	switch {
	case r.p1 == nil:
		r.p1 = occ
		return model.SeatP1, r.seatInfosLocked(), nil
	case r.p2 == nil:
		r.p2 = occ
		return model.SeatP2, r.seatInfosLocked(), nil
	default:
		return "", nil, ErrRoomFull
	}
}

// HasOpenSeat reports whether a waiting room can take another player.
func (r *Room) HasOpenSeat() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusWaiting && (r.p1 == nil || r.p2 == nil)
}

// ReadyChange is the result of a ready toggle.
type ReadyChange struct {
	Seat     model.Seat
	Ready    bool
	AllReady bool // both seats occupied and both ready: start predicate
}

// SetReady sets or toggles the sender's ready flag. Only legal in waiting.
func (r *Room) SetReady(sessionID string, ready *bool) (ReadyChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusWaiting {
		return ReadyChange{}, ErrBadState
	}
	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return ReadyChange{}, ErrNotInRoom
	}

	if ready == nil {
		occ.Ready = !occ.Ready
	} else {
		occ.Ready = *ready
	}

	all := r.p1 != nil && r.p2 != nil && r.p1.Ready && r.p2.Ready
	return ReadyChange{Seat: seat, Ready: occ.Ready, AllReady: all}, nil
}

// MatchStart is the snapshot produced when a room transitions to playing.
type MatchStart struct {
	Players   [2]model.MatchPlayer
	Duration  time.Duration
	ClockStop <-chan struct{}
}

// BeginMatch transitions waiting → playing: resets the score and clock,
// snapshots the player identities, clears ready flags for the next rematch
// round and arms a fresh clock stop channel. The caller starts the clock
// goroutine and records matchID separately once persistence responds.
func (r *Room) BeginMatch() (MatchStart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusWaiting || r.p1 == nil || r.p2 == nil || !r.p1.Ready || !r.p2.Ready {
		return MatchStart{}, ErrBadState
	}

	r.status = StatusPlaying
	r.score = model.Score{}
	r.timeRemaining = r.matchDuration
	r.lastWholeSec = int64(r.matchDuration / time.Second)
	clear(r.warned)
	r.startedAt = time.Now()
	r.p1.Ready = false
	r.p2.Ready = false
	r.p1.RematchRequested = false
	r.p2.RematchRequested = false
	r.p1.lastPos, r.p1.hasMoved = nil, false
	r.p2.lastPos, r.p2.hasMoved = nil, false
	r.matchPlayers = [2]model.MatchPlayer{
		{UserID: r.p1.Sub.UserID(), Wallet: r.p1.Sub.Wallet(), Seat: model.SeatP1},
		{UserID: r.p2.Sub.UserID(), Wallet: r.p2.Sub.Wallet(), Seat: model.SeatP2},
	}
	r.clockStop = make(chan struct{})

	return MatchStart{
		Players:   r.matchPlayers,
		Duration:  r.matchDuration,
		ClockStop: r.clockStop,
	}, nil
}

// SetMatchID records the persisted match id after a successful CreateMatch.
func (r *Room) SetMatchID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchID = id
}

// TickResult describes what one clock step produced.
type TickResult struct {
	RemainingMs   int64
	SecondCrossed bool
	Warning       int // 0 = none, otherwise threshold seconds
	TimeUp        bool
}

// Tick advances the match clock by dt, clamping at zero. Timer events are
// derived here so they are totally ordered with goals for the room.
func (r *Room) Tick(dt time.Duration) (TickResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusPlaying {
		return TickResult{}, false
	}

	r.timeRemaining -= dt
	if r.timeRemaining < 0 {
		r.timeRemaining = 0
	}

	res := TickResult{RemainingMs: r.timeRemaining.Milliseconds()}

	whole := int64(r.timeRemaining / time.Second)
	if whole < r.lastWholeSec {
		r.lastWholeSec = whole
		res.SecondCrossed = true
		for _, th := range warnThresholds {
			if whole == int64(th) && !r.warned[th] {
				r.warned[th] = true
				res.Warning = th
			}
		}
	}

	res.TimeUp = r.timeRemaining == 0
	return res, true
}

// FinishResult is the one-shot outcome snapshot used for persistence and
// the game_ended broadcast.
type FinishResult struct {
	MatchID string
	Players [2]model.MatchPlayer
	Result  model.MatchResult
	Rematch <-chan struct{} // armed rematch stop channel
}

// finishLocked runs the playing → finished transition. vacated names a seat
// whose occupant left mid-game; the empty string means a regular time-up.
func (r *Room) finishLocked(vacated model.Seat, abandoned bool) FinishResult {
	r.status = StatusFinished
	if r.clockStop != nil {
		close(r.clockStop)
		r.clockStop = nil
	}

	var outcome model.Outcome
	switch {
	case abandoned:
		outcome = model.OutcomeAbandoned
	case vacated != "" && r.timeRemaining > 0:
		// Mid-game leave: remaining seat wins regardless of score. A leave
		// racing the expired clock resolves as time-up instead.
		if vacated == model.SeatP1 {
			outcome = model.OutcomeP2Wins
		} else {
			outcome = model.OutcomeP1Wins
		}
	case r.score.P1 > r.score.P2:
		outcome = model.OutcomeP1Wins
	case r.score.P2 > r.score.P1:
		outcome = model.OutcomeP2Wins
	default:
		outcome = model.OutcomeDraw
	}

	var winner string
	switch outcome {
	case model.OutcomeP1Wins:
		winner = r.matchPlayers[0].UserID
	case model.OutcomeP2Wins:
		winner = r.matchPlayers[1].UserID
	}

	r.matchPlayers[0].Goals = r.score.P1
	r.matchPlayers[1].Goals = r.score.P2
	r.rematchStop = make(chan struct{})

	return FinishResult{
		MatchID: r.matchID,
		Players: r.matchPlayers,
		Result: model.MatchResult{
			WinnerUserID: winner,
			Outcome:      outcome,
			FinalScore:   r.score,
			DurationMs:   time.Since(r.startedAt).Milliseconds(),
		},
		Rematch: r.rematchStop,
	}
}

// FinishTimeUp runs the time-up finish. Returns false if the room already
// left playing (the transition is one-shot).
func (r *Room) FinishTimeUp() (FinishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPlaying {
		return FinishResult{}, false
	}
	return r.finishLocked("", false), true
}

// Abort finishes a playing match as abandoned (server shutdown).
func (r *Room) Abort() (FinishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPlaying {
		return FinishResult{}, false
	}
	return r.finishLocked("", true), true
}

// LeaveResult describes the consequences of a departure.
type LeaveResult struct {
	Seat     model.Seat
	Empty    bool          // room has no occupants left: dispose
	Finished *FinishResult // set when a mid-game leave ended the match
}

// Leave removes the session's occupant. In waiting/finished the seat is
// simply vacated; in playing the match finishes and the remaining seat is
// awarded the win.
func (r *Room) Leave(sessionID string) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return LeaveResult{}, ErrNotInRoom
	}

	res := LeaveResult{Seat: seat}

	if r.status == StatusPlaying {
		fin := r.finishLocked(seat, false)
		res.Finished = &fin
	}

	if seat == model.SeatP1 {
		r.p1 = nil
	} else {
		r.p2 = nil
	}
	res.Empty = r.p1 == nil && r.p2 == nil
	return res, nil
}

// RematchState reports the rematch negotiation after one request.
type RematchState struct {
	Seat model.Seat
	Both bool
}

// RequestRematch flags the sender's rematch intent. Only legal in finished.
func (r *Room) RequestRematch(sessionID string) (RematchState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusFinished {
		return RematchState{}, ErrBadState
	}
	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return RematchState{}, ErrNotInRoom
	}
	occ.RematchRequested = true

	both := r.p1 != nil && r.p2 != nil && r.p1.RematchRequested && r.p2.RematchRequested
	return RematchState{Seat: seat, Both: both}, nil
}

// DeclineRematch rejects the rematch window. Only legal in finished.
func (r *Room) DeclineRematch(sessionID string) (model.Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusFinished {
		return "", ErrBadState
	}
	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return "", ErrNotInRoom
	}
	return seat, nil
}

// ResetForRematch returns a finished room to waiting with the same
// occupants: score and clock reset, ready and rematch flags cleared, ball
// authority preserved, match id cleared.
func (r *Room) ResetForRematch() ([]SeatInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusFinished || r.p1 == nil || r.p2 == nil {
		return nil, ErrBadState
	}

	r.status = StatusWaiting
	r.score = model.Score{}
	r.timeRemaining = r.matchDuration
	r.lastWholeSec = int64(r.matchDuration / time.Second)
	clear(r.warned)
	r.matchID = ""
	r.startedAt = time.Time{}
	r.p1.Ready, r.p2.Ready = false, false
	r.p1.RematchRequested, r.p2.RematchRequested = false, false
	if r.rematchStop != nil {
		close(r.rematchStop)
		r.rematchStop = nil
	}
	return r.seatInfosLocked(), nil
}

// MarkDisposing moves the room into its terminal state. Further joins and
// messages are rejected; the registry deletes the room after the grace
// period.
func (r *Room) MarkDisposing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusDisposing
	if r.clockStop != nil {
		close(r.clockStop)
		r.clockStop = nil
	}
	if r.rematchStop != nil {
		close(r.rematchStop)
		r.rematchStop = nil
	}
}
