// Package gamedto defines the wire shapes shared between the server and
// clients: broadcast events, websocket frames, and error codes.
package gamedto

import (
	"time"

	"github.com/kapu/checkers-live/internal/game"
)

// EventType enumerates the broadcast events. Every event carries the full
// post-mutation snapshot so subscribers never need a follow-up fetch.
type EventType string

const (
	EventMoveConfirmed EventType = "MOVE_CONFIRMED"
	EventDrawRequested EventType = "DRAW_REQUESTED"
	EventDrawAccepted  EventType = "DRAW_ACCEPTED"
	EventDrawDeclined  EventType = "DRAW_DECLINED"
	EventGameResigned  EventType = "GAME_RESIGNED"
	EventGameEnded     EventType = "GAME_ENDED"
	EventPlayerJoined  EventType = "PLAYER_JOINED"
)

// Event is published on the game topic and on each participant's user topic.
// Delivery is best-effort and at-most-once; authoritative state lives in the
// game record, never in the channel.
type Event struct {
	Type        EventType          `json:"type"`
	GameID      string             `json:"game_id"`
	Game        *Snapshot          `json:"game"`
	Move        *game.MoveLogEntry `json:"move,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
}

// Snapshot is the client-facing projection of a game record.
type Snapshot struct {
	ID          string          `json:"id"`
	Board       string          `json:"board"`
	Turn        game.Side       `json:"turn"`
	Version     int             `json:"version"`
	MoveCount   int             `json:"move_count"`
	Phase       game.Phase      `json:"phase"`
	Winner      string          `json:"winner,omitempty"`
	ResignedBy  game.Role       `json:"resigned_by,omitempty"`
	Player1Name string          `json:"player1_name,omitempty"`
	Player2Name string          `json:"player2_name,omitempty"`
	PendingDraw *game.DrawOffer `json:"pending_draw,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SnapshotOf projects a record for the wire. Player identities stay server
// side; only display names travel.
func SnapshotOf(g *game.Game) *Snapshot {
	if g == nil {
		return nil
	}
	return &Snapshot{
		ID:          g.ID,
		Board:       g.Board,
		Turn:        g.Turn,
		Version:     g.Version,
		MoveCount:   g.MoveCount,
		Phase:       g.Phase(),
		Winner:      g.Winner,
		ResignedBy:  g.ResignedBy,
		Player1Name: g.Player1Name,
		Player2Name: g.Player2Name,
		PendingDraw: g.PendingDraw,
		UpdatedAt:   g.UpdatedAt,
	}
}
