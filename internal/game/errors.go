package game

import "fmt"

// Client-caused failures are sentinels so transports can map them to wire
// codes with errors.Is. None of them is retried automatically.
var (
	ErrGameNotFound       = errf("game not found")
	ErrGameEnded          = errf("game already ended")
	ErrWaitingForOpponent = errf("waiting for opponent")
	ErrNotYourTurn        = errf("not your turn")
	ErrOutOfBounds        = errf("move out of bounds")
	ErrIllegalMove        = errf("illegal move")
	ErrForbidden          = errf("actor may not perform this action")
	ErrDrawPending        = errf("a draw offer is already pending")
	ErrNoDrawPending      = errf("no draw offer is pending")
	ErrOwnDrawOffer       = errf("cannot answer your own draw offer")
	ErrStoreUnavailable   = errf("store unavailable")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// VersionConflictError is the one recoverable failure: it carries the
// authoritative version and every log entry the client has not seen, so the
// client can reconcile without a second fetch.
type VersionConflictError struct {
	ServerVersion int
	MissedMoves   []MoveLogEntry
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: server at version %d, %d missed moves", e.ServerVersion, len(e.MissedMoves))
}
