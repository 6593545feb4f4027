package game

import "errors"

// Registry and FSM failures. The handler maps these onto stable wire codes;
// all of them are per-message and leave the session attached.
var (
	ErrNotInRoom     = errors.New("session is not in a room")
	ErrAlreadyInRoom = errors.New("session already holds a seat")
	ErrRoomFull      = errors.New("room is full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrBadCode       = errors.New("unknown room code")
	ErrBadState      = errors.New("message not permitted in current room state")

	// Anti-cheat drops. Logged, never fatal.
	ErrSeatSpoof     = errors.New("seat field does not match sender's seat")
	ErrBallAuthority = errors.New("sender is not the ball authority")
	ErrPositionJump  = errors.New("position delta exceeds per-message cap")
)

// Wire error codes (spec'd as stable strings).
const (
	CodeAuthRequired     = "auth_required"
	CodeAuthInvalid      = "auth_invalid"
	CodeAlreadyConnected = "already_connected"
	CodeNotInRoom        = "not_in_room"
	CodeAlreadyInRoom    = "already_in_room"
	CodeRoomFull         = "room_full"
	CodeRoomNotFound     = "room_not_found"
	CodeBadCode          = "bad_code"
	CodeBadState         = "bad_state"
	CodeSeatSpoof        = "seat_spoof"
	CodeBallUpdate       = "unauthorized_ball_update"
	CodeGoal             = "unauthorized_goal"
	CodeOverloaded       = "overloaded"
	CodeServerShutdown   = "server_shutdown"
)

// WireCode maps a game error to its wire code. Unknown errors map to
// bad_state, the least specific per-message code.
func WireCode(err error) string {
	switch {
	case errors.Is(err, ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrAlreadyInRoom):
		return CodeAlreadyInRoom
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrBadCode):
		return CodeBadCode
	case errors.Is(err, ErrSeatSpoof):
		return CodeSeatSpoof
	case errors.Is(err, ErrBallAuthority):
		return CodeBallUpdate
	default:
		return CodeBadState
	}
}
