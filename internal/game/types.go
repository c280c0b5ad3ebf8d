// Package game holds the authoritative match record and the error taxonomy
// shared by the validator, the stores, and the transports.
package game

import (
	"time"

	"github.com/kapu/checkers-live/internal/checkers"
)

// Side identifies which seat moves. Player 1 is always red, player 2 black.
type Side string

const (
	SideRed   Side = "red"
	SideBlack Side = "black"
)

func (s Side) Opponent() Side {
	if s == SideRed {
		return SideBlack
	}
	return SideRed
}

// Color converts to the rules-engine color.
func (s Side) Color() checkers.Color {
	if s == SideRed {
		return checkers.Red
	}
	return checkers.Black
}

// Role is a viewer's relationship to a game, derived from identity against
// the player slots at join time and never stored on its own.
type Role string

const (
	RolePlayer1   Role = "PLAYER_1"
	RolePlayer2   Role = "PLAYER_2"
	RoleSpectator Role = "SPECTATOR"
)

// Phase is the lobby state machine: LOBBY until both slots are filled, then
// ACTIVE, then ENDED once a winner (including draw) is recorded.
type Phase string

const (
	PhaseLobby  Phase = "LOBBY"
	PhaseActive Phase = "ACTIVE"
	PhaseEnded  Phase = "ENDED"
)

// Winner values. Empty means the game is still running.
const (
	WinnerRed   = "red"
	WinnerBlack = "black"
	WinnerDraw  = "draw"
)

// DrawOffer is the pending-draw sub-state. At most one offer is open at a
// time; it is cleared on decline and consumed on accept.
type DrawOffer struct {
	RequestedBy Side      `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// Game is the authoritative record, stored as JSON under game:{id}. Version
// is the optimistic-concurrency token: it increments exactly once per
// accepted mutation (move, draw-accept, resignation) and never decreases.
type Game struct {
	ID        string `json:"id"`
	Board     string `json:"board"`
	Turn      Side   `json:"turn"`
	Version   int    `json:"version"`
	MoveCount int    `json:"move_count"`

	Winner     string `json:"winner,omitempty"`
	ResignedBy Role   `json:"resigned_by,omitempty"`

	Player1ID    string `json:"player1_id"`
	Player1Name  string `json:"player1_name,omitempty"`
	Player1Guest bool   `json:"player1_guest,omitempty"`
	Player2ID    string `json:"player2_id,omitempty"`
	Player2Name  string `json:"player2_name,omitempty"`
	Player2Guest bool   `json:"player2_guest,omitempty"`

	PendingDraw *DrawOffer `json:"pending_draw,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the game has concluded.
func (g *Game) Terminal() bool { return g.Winner != "" }

func (g *Game) Phase() Phase {
	switch {
	case g.Terminal():
		return PhaseEnded
	case g.Player2ID == "":
		return PhaseLobby
	default:
		return PhaseActive
	}
}

// SideOf maps an identity to its seat; ok is false for spectators.
func (g *Game) SideOf(identity string) (Side, bool) {
	switch {
	case identity != "" && identity == g.Player1ID:
		return SideRed, true
	case identity != "" && identity == g.Player2ID:
		return SideBlack, true
	}
	return "", false
}

// PlayerID returns the identity seated on the given side.
func (g *Game) PlayerID(s Side) string {
	if s == SideRed {
		return g.Player1ID
	}
	return g.Player2ID
}

// RoleOf derives the role the identity would be assigned on join.
func (g *Game) RoleOf(identity string) Role {
	if s, ok := g.SideOf(identity); ok {
		if s == SideRed {
			return RolePlayer1
		}
		return RolePlayer2
	}
	return RoleSpectator
}

// MoveLogEntry is one accepted move. Entries are append-only and indexed by
// the game version at the time the move was accepted, so the log replays the
// board from the initial position.
type MoveLogEntry struct {
	GameID    string            `json:"game_id"`
	MoveIndex int               `json:"move_index"`
	Side      Side              `json:"side"`
	From      checkers.Square   `json:"from"`
	To        checkers.Square   `json:"to"`
	Captures  []checkers.Square `json:"captures,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Move reconstructs the rules-engine move for replay.
func (e MoveLogEntry) Move() checkers.Move {
	return checkers.Move{From: e.From, To: e.To, Captures: e.Captures}
}

// Identity is a resolved caller: an account id or a guest session token. The
// engine treats both uniformly; IsGuest only matters for slot persistence.
type Identity struct {
	ID      string
	Name    string
	IsGuest bool
}
