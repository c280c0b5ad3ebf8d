package gamedto

import (
	"github.com/kapu/checkers-live/internal/checkers"
	"github.com/kapu/checkers-live/internal/game"
)

// ---- client -> server ----

// ClientFrame is one websocket request. Type selects which fields apply.
type ClientFrame struct {
	Type string `json:"type"` // "join" | "move" | "draw_offer" | "draw_response" | "resign" | "sync" | "ping"

	GameID string `json:"game_id,omitempty"`

	// move
	Move          *checkers.Move `json:"move,omitempty"`
	ClientVersion int            `json:"client_version,omitempty"`

	// draw_response
	Accept bool `json:"accept,omitempty"`

	// sync: return log entries with move_index >= since_version
	SinceVersion int `json:"since_version,omitempty"`
}

// ---- server -> client ----

// ServerFrame is one websocket response or pushed event.
type ServerFrame struct {
	Type string `json:"type"` // "joined" | "accepted" | "conflict" | "rejected" | "state" | "event" | "pong" | "error"

	Role     game.Role `json:"role,omitempty"`
	Game     *Snapshot `json:"game,omitempty"`
	Presence *Presence `json:"presence,omitempty"`

	// conflict
	ServerVersion int                 `json:"server_version,omitempty"`
	MissedMoves   []game.MoveLogEntry `json:"missed_moves,omitempty"`

	// sync response
	Log []game.MoveLogEntry `json:"log,omitempty"`

	// event push
	Event *Event `json:"event,omitempty"`

	// rejected / error
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Presence mirrors the tracker snapshot for UI gating.
type Presence struct {
	Player1Connected bool `json:"player1_connected"`
	Player2Connected bool `json:"player2_connected"`
	Spectators       int  `json:"spectators"`
}

// Error codes for the rejected/error frames.
const (
	CodeGameNotFound       = "GAME_NOT_FOUND"
	CodeGameEnded          = "GAME_ENDED"
	CodeWaitingForOpponent = "WAITING_FOR_OPPONENT"
	CodeNotYourTurn        = "NOT_YOUR_TURN"
	CodeOutOfBounds        = "OUT_OF_BOUNDS"
	CodeIllegalMove        = "ILLEGAL_MOVE"
	CodeVersionConflict    = "VERSION_CONFLICT"
	CodeForbidden          = "FORBIDDEN"
	CodeDrawPending        = "DRAW_PENDING"
	CodeNoDrawPending      = "NO_DRAW_PENDING"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeBadRequest         = "BAD_REQUEST"
)
