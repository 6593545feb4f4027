package model

import "time"

// User is a registered player identified by their wallet.
type User struct {
	ID        string
	Wallet    string // lowercase hex, 0x-prefixed
	CreatedAt time.Time
	Stats     GameStats
}

// GameStats holds a user's lifetime match totals.
type GameStats struct {
	Wins         int
	Losses       int
	Draws        int
	TotalMatches int
}

// StatOutcome is a user's personal result in one match.
type StatOutcome string

const (
	StatWin  StatOutcome = "win"
	StatLoss StatOutcome = "loss"
	StatDraw StatOutcome = "draw"
)

// Apply increments the stat counters for one finalized match.
func (g *GameStats) Apply(o StatOutcome) {
	switch o {
	case StatWin:
		g.Wins++
	case StatLoss:
		g.Losses++
	case StatDraw:
		g.Draws++
	}
	g.TotalMatches++
}
