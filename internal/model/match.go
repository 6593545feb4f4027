package model

import "time"

// Seat identifies one of the two roles in a room.
type Seat string

const (
	SeatP1 Seat = "p1"
	SeatP2 Seat = "p2"
)

// Other returns the opposing seat.
func (s Seat) Other() Seat {
	if s == SeatP1 {
		return SeatP2
	}
	return SeatP1
}

// Valid reports whether s is one of the two seats.
func (s Seat) Valid() bool {
	return s == SeatP1 || s == SeatP2
}

// Outcome is the final result of a match.
type Outcome string

const (
	OutcomeP1Wins    Outcome = "p1_wins"
	OutcomeP2Wins    Outcome = "p2_wins"
	OutcomeDraw      Outcome = "draw"
	OutcomeAbandoned Outcome = "abandoned" // server shutdown mid-match
)

// MatchStatus is the persisted lifecycle state of a match record.
type MatchStatus string

const (
	MatchWaiting  MatchStatus = "waiting"
	MatchPlaying  MatchStatus = "playing"
	MatchFinished MatchStatus = "finished"
)

// MatchPlayer is one participant in a match record.
type MatchPlayer struct {
	UserID string
	Wallet string
	Seat   Seat
	Goals  int
}

// Score is the goal count per seat.
type Score struct {
	P1 int `json:"p1"`
	P2 int `json:"p2"`
}

// MatchResult is the final outcome written exactly once per match.
type MatchResult struct {
	WinnerUserID string // empty for draw/abandoned
	Outcome      Outcome
	FinalScore   Score
	DurationMs   int64
}

// MatchRecord is the persisted view of one match.
type MatchRecord struct {
	ID        string
	Players   [2]MatchPlayer // index 0 = p1, index 1 = p2
	Status    MatchStatus
	StartedAt time.Time
	EndedAt   time.Time
	Result    MatchResult
}

// StatOutcomeFor maps a match outcome to one seat's personal stat delta.
// Abandoned matches count as draws for both players.
func StatOutcomeFor(o Outcome, seat Seat) StatOutcome {
	switch o {
	case OutcomeP1Wins:
		if seat == SeatP1 {
			return StatWin
		}
		return StatLoss
	case OutcomeP2Wins:
		if seat == SeatP2 {
			return StatWin
		}
		return StatLoss
	default:
		return StatDraw
	}
}
