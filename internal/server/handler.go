package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/goalduel/server/internal/game"
)

// Handler dispatches decoded client messages to the match orchestrator and
// maps failures onto wire error events. Every rejection is per-message: the
// session stays attached.
type Handler struct {
	orch *game.Orchestrator
}

// NewHandler creates a message handler.
func NewHandler(orch *game.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// Handle processes one raw inbound frame from an attached session.
func (h *Handler) Handle(ctx context.Context, s *Session, data []byte) {
	var msg game.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("unparseable frame", "session", s.ID(), "error", err)
		sendError(s, game.CodeBadState, "unparseable message")
		return
	}

	// Room-bound kinds gate on the room state up front. The room re-checks
	// under its own lock; this keeps the wire answer uniform across kinds.
	switch msg.Kind {
	case game.KindLeave, game.KindReady, game.KindPlayerPosition,
		game.KindBallState, game.KindGoal,
		game.KindRequestRematch, game.KindDeclineRematch:
		room := h.orch.Rooms().ByMember(s.ID())
		if room == nil {
			sendError(s, game.CodeNotInRoom, "no seat held")
			return
		}
		if status := room.Status(); !game.KindPermitted(status, msg.Kind) {
			sendError(s, game.CodeBadState, string(msg.Kind)+" not permitted in "+string(status))
			return
		}
	}

	switch msg.Kind {
	case game.KindFindMatch:
		if err := h.orch.FindMatch(s); err != nil {
			h.reply(s, err)
			return
		}
		h.recordSeat(s)

	case game.KindCreateRoom:
		if err := h.orch.CreateRoom(s); err != nil {
			h.reply(s, err)
			return
		}
		h.recordSeat(s)

	case game.KindJoinByCode:
		var p game.JoinByCodePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Code == "" {
			sendError(s, game.CodeBadCode, "missing room code")
			return
		}
		if err := h.orch.JoinByCode(s, p.Code); err != nil {
			h.reply(s, err)
			return
		}
		h.recordSeat(s)

	case game.KindLeave:
		if err := h.orch.Leave(s, "leave"); err != nil {
			h.reply(s, err)
			return
		}
		s.ClearSeat()

	case game.KindReady:
		var p game.ReadyPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				sendError(s, game.CodeBadState, "malformed ready payload")
				return
			}
		}
		h.reply(s, h.orch.Ready(s, p.Ready))

	case game.KindPlayerPosition:
		var p game.PositionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		err := h.orch.Position(s, p)
		switch {
		case errors.Is(err, game.ErrSeatSpoof):
			// Anti-cheat: drop silently, nothing to either seat.
			slog.Warn("anti-cheat: seat spoof",
				"session", s.ID(), "user", s.UserID(), "claimed_seat", p.Seat)
		case errors.Is(err, game.ErrPositionJump):
			// Advisory cap: this message only.
			slog.Debug("position delta over cap", "session", s.ID(), "user", s.UserID())
		case err != nil:
			h.reply(s, err)
		}

	case game.KindBallState:
		var p game.BallPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		err := h.orch.BallState(s, p)
		if errors.Is(err, game.ErrBallAuthority) {
			slog.Warn("anti-cheat: ball update from non-authority",
				"session", s.ID(), "user", s.UserID())
			sendError(s, game.CodeBallUpdate, "only the ball authority may send ball state")
			return
		}
		h.reply(s, err)

	case game.KindGoal:
		var p game.GoalPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		err := h.orch.Goal(s, p)
		if errors.Is(err, game.ErrBallAuthority) {
			slog.Warn("anti-cheat: goal from non-authority",
				"session", s.ID(), "user", s.UserID())
			sendError(s, game.CodeGoal, "only the ball authority may assert goals")
			return
		}
		h.reply(s, err)

	case game.KindRequestRematch:
		h.reply(s, h.orch.RequestRematch(s))

	case game.KindDeclineRematch:
		h.reply(s, h.orch.DeclineRematch(s))

	default:
		slog.Debug("unknown message kind", "session", s.ID(), "kind", msg.Kind)
		sendError(s, game.CodeBadState, "unknown message kind")
	}
}

// recordSeat mirrors the registry's seat assignment onto the session so
// disconnect handling and shutdown know who is seated.
func (h *Handler) recordSeat(s *Session) {
	room := h.orch.Rooms().ByMember(s.ID())
	if room == nil {
		// Lost seat race, room_full already sent.
		return
	}
	if seat, ok := room.SeatOf(s.ID()); ok {
		s.SetSeat(room.ID(), seat)
	}
}

// reply surfaces an operation error to the sender, if any.
func (h *Handler) reply(s *Session, err error) {
	if err == nil {
		return
	}
	sendError(s, game.WireCode(err), err.Error())
}

func sendError(s *Session, code, text string) {
	if err := s.Send(game.ErrorMessage(code, text)); err != nil {
		slog.Debug("error event not delivered", "session", s.ID(), "code", code, "error", err)
	}
}
