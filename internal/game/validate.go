package game

import (
	"math"

	"github.com/goalduel/server/internal/model"
)

// KindPermitted is the client-ingress state gate: the dispatch layer
// consults it before any room operation. Room-less kinds (find_match,
// create_room, join_by_code) are checked before a room exists and never
// reach this table. Internal cleanup bypasses it: a disconnect still
// vacates a seat in a disposing room even though a client leave does not.
func KindPermitted(status Status, kind Kind) bool {
	switch kind {
	case KindReady:
		return status == StatusWaiting
	case KindPlayerPosition, KindBallState, KindGoal:
		return status == StatusPlaying
	case KindRequestRematch, KindDeclineRematch:
		return status == StatusFinished
	case KindLeave:
		return status != StatusDisposing
	default:
		return false
	}
}

// AcceptPosition validates one player_position message and records it as the
// new reference point. Checks, in order: sender holds a seat, the room is
// playing, the seat field matches the sender (no silent rewrite), and the
// advisory movement cap. A cap violation drops this message only.
func (r *Room) AcceptPosition(sessionID string, p PositionPayload, maxStep float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return ErrNotInRoom
	}
	if r.status != StatusPlaying {
		return ErrBadState
	}
	if p.Seat != seat {
		return ErrSeatSpoof
	}

	if maxStep > 0 && occ.hasMoved {
		dx := math.Abs(p.X - occ.lastPos.X)
		dy := math.Abs(p.Y - occ.lastPos.Y)
		if math.Max(dx, dy) > maxStep {
			return ErrPositionJump
		}
	}

	pos := p
	occ.lastPos = &pos
	occ.hasMoved = true
	return nil
}

// AcceptBall validates a ball_state message: only the ball authority may
// assert ball state, and only while playing.
func (r *Room) AcceptBall(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return ErrNotInRoom
	}
	if r.status != StatusPlaying {
		return ErrBadState
	}
	if seat != r.ballAuthority {
		return ErrBallAuthority
	}
	return nil
}

// ApplyGoal validates and applies a goal assertion. Only the ball authority
// may score goals for either seat; the scoring seat must be valid. Returns
// the updated score.
func (r *Room) ApplyGoal(sessionID string, scoring model.Seat) (model.Score, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seat, occ := r.seatOf(sessionID)
	if occ == nil {
		return model.Score{}, ErrNotInRoom
	}
	if r.status != StatusPlaying {
		return model.Score{}, ErrBadState
	}
	if seat != r.ballAuthority {
		return model.Score{}, ErrBallAuthority
	}
	if !scoring.Valid() {
		return model.Score{}, ErrSeatSpoof
	}

	if scoring == model.SeatP1 {
		r.score.P1++
	} else {
		r.score.P2++
	}

	// Goal resets the ball: the next ball/position updates start a fresh
	// movement reference.
	if r.p1 != nil {
		r.p1.lastPos, r.p1.hasMoved = nil, false
	}
	if r.p2 != nil {
		r.p2.lastPos, r.p2.hasMoved = nil, false
	}

	return r.score, nil
}
