package game

import (
	"encoding/json"
	"fmt"

	"github.com/goalduel/server/internal/model"
)

// Kind identifies a wire message. Framing is JSON text messages; the kind
// string is the message identity on both directions.
type Kind string

// Client → server kinds.
const (
	KindFindMatch      Kind = "find_match"
	KindCreateRoom     Kind = "create_room"
	KindJoinByCode     Kind = "join_by_code"
	KindLeave          Kind = "leave"
	KindReady          Kind = "ready"
	KindPlayerPosition Kind = "player_position"
	KindBallState      Kind = "ball_state"
	KindGoal           Kind = "goal"
	KindRequestRematch Kind = "request_rematch"
	KindDeclineRematch Kind = "decline_rematch"
)

// Server → client kinds.
const (
	KindWelcome          Kind = "welcome"
	KindRoomJoined       Kind = "room_joined"
	KindRoomFull         Kind = "room_full"
	KindRoomState        Kind = "room_state"
	KindPlayerJoined     Kind = "player_joined"
	KindPlayerLeft       Kind = "player_left"
	KindPlayerReadyState Kind = "player_ready_state"
	KindGameStarted      Kind = "game_started"
	KindGoalScored       Kind = "goal_scored"
	KindTimerUpdate      Kind = "timer_update"
	KindTimerWarning     Kind = "timer_warning"
	KindTimeUp           Kind = "time_up"
	KindGameEnded        Kind = "game_ended"
	KindRematchRequested Kind = "rematch_requested"
	KindRematchConfirmed Kind = "rematch_confirmed"
	KindRematchDeclined  Kind = "rematch_declined"
	KindRematchTimeout   Kind = "rematch_timeout"
	KindServerShutdown   Kind = "server_shutdown"
	KindError            Kind = "error"
)

// Message is the wire envelope for both directions.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps a payload struct into a Message.
func NewMessage(kind Kind, payload any) (Message, error) {
	msg := Message{Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshaling %s payload: %w", kind, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// MustMessage is NewMessage for server-built payloads, which cannot fail to
// marshal.
func MustMessage(kind Kind, payload any) Message {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// ErrorMessage builds an error event with a stable wire code.
func ErrorMessage(code, text string) Message {
	return MustMessage(KindError, ErrorPayload{Code: code, Message: text})
}

// Ingress payloads.

// JoinByCodePayload joins a specific room.
type JoinByCodePayload struct {
	Code string `json:"code"`
}

// ReadyPayload toggles or sets the ready flag. A missing payload on the
// wire means "toggle".
type ReadyPayload struct {
	Ready *bool `json:"ready,omitempty"`
}

// PositionPayload carries one paddle update. Seat must be the sender's own.
type PositionPayload struct {
	Seat model.Seat `json:"seat"`
	X    float64    `json:"x"`
	Y    float64    `json:"y"`
	VX   float64    `json:"vx"`
	VY   float64    `json:"vy"`
}

// BallPayload carries a ball update from the ball authority.
type BallPayload struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// GoalPayload asserts a goal, only accepted from the ball authority.
type GoalPayload struct {
	ScoringSeat model.Seat `json:"scoringSeat"`
}

// Egress payloads.

// WelcomePayload confirms a successful attach.
type WelcomePayload struct {
	SessionID     string `json:"sessionId"`
	Authenticated bool   `json:"authenticated"`
}

// SeatInfo describes one occupied seat for lobby snapshots.
type SeatInfo struct {
	Seat   model.Seat `json:"seat"`
	UserID string     `json:"userId"`
	Ready  bool       `json:"ready"`
}

// RoomJoinedPayload is sent to the joiner with their assigned seat.
type RoomJoinedPayload struct {
	RoomID string     `json:"roomId"`
	Code   string     `json:"code"`
	Seat   model.Seat `json:"seat"`
	Seats  []SeatInfo `json:"seats"`
}

// RoomFullPayload reports a lost race for the last seat.
type RoomFullPayload struct {
	RoomID string `json:"roomId"`
}

// RoomStatePayload is a lobby snapshot (sent on join and rematch reset).
type RoomStatePayload struct {
	RoomID string     `json:"roomId"`
	Code   string     `json:"code"`
	Status Status     `json:"status"`
	Seats  []SeatInfo `json:"seats"`
}

// PlayerJoinedPayload announces the other occupant.
type PlayerJoinedPayload struct {
	Seat   model.Seat `json:"seat"`
	UserID string     `json:"userId"`
}

// PlayerLeftPayload announces a departure.
type PlayerLeftPayload struct {
	Seat   model.Seat `json:"seat"`
	Reason string     `json:"reason"` // leave, disconnect, overloaded
}

// ReadyStatePayload announces a ready flag change.
type ReadyStatePayload struct {
	Seat     model.Seat `json:"seat"`
	Ready    bool       `json:"ready"`
	AllReady bool       `json:"allReady"`
}

// GameStartedPayload announces match start.
type GameStartedPayload struct {
	MatchID    string `json:"matchId,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// GoalScoredPayload announces an accepted goal.
type GoalScoredPayload struct {
	Scorer model.Seat  `json:"scorer"`
	Score  model.Score `json:"score"`
}

// TimerUpdatePayload is emitted on whole-second crossings.
type TimerUpdatePayload struct {
	TimeRemainingMs int64 `json:"timeRemainingMs"`
}

// TimerWarningPayload is emitted once per threshold per match.
type TimerWarningPayload struct {
	Threshold int `json:"threshold"` // seconds remaining: 30, 10
}

// GameEndedPayload announces the final result.
type GameEndedPayload struct {
	Outcome    model.Outcome `json:"outcome"`
	Winner     string        `json:"winner,omitempty"` // userId
	FinalScore model.Score   `json:"finalScore"`
	DurationMs int64         `json:"durationMs"`
	MatchID    string        `json:"matchId,omitempty"`
}

// RematchSeatPayload names the seat behind a rematch request or decline.
type RematchSeatPayload struct {
	Seat model.Seat `json:"seat"`
}

// ErrorPayload carries a stable error code plus human-readable text.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Priority decides what may be dropped when a session's outbound queue
// fills up. Critical events are never dropped; low-tier events go first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// PriorityOf returns the delivery tier for an egress kind.
func PriorityOf(kind Kind) Priority {
	switch kind {
	case KindPlayerReadyState, KindGoalScored, KindGameStarted, KindGameEnded,
		KindError, KindRematchConfirmed, KindRematchDeclined, KindRematchTimeout,
		KindServerShutdown, KindTimeUp:
		return PriorityCritical
	case KindPlayerPosition, KindBallState, KindPlayerJoined, KindPlayerLeft,
		KindRoomJoined, KindRematchRequested, KindWelcome:
		return PriorityHigh
	case KindTimerUpdate, KindTimerWarning, KindRoomState:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
