// Package client implements the player-side reconciliation layer: optimistic
// local application, an offline move queue, and conflict recovery against the
// authoritative engine. The engine never sees this state; it is purely local
// to one client session.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/checkers-live/internal/checkers"
	"github.com/kapu/checkers-live/internal/game"
	"github.com/kapu/checkers-live/internal/obslog"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

// ConnState is the session's view of its link to the server.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Engine is the authoritative surface the session submits to. match.Manager
// satisfies it directly; a remote transport proxy satisfies it over the wire.
type Engine interface {
	SubmitMove(ctx context.Context, gameID, actorID string, mv checkers.Move, clientVersion int) (*game.Game, *game.MoveLogEntry, error)
	GetGameState(ctx context.Context, gameID string) (*game.Game, error)
}

// ErrQueueHalted wraps the failure that stopped an offline-queue flush. The
// moves behind the failed one stay queued and are never submitted out of
// order.
var ErrQueueHalted = errors.New("offline queue flush halted")

// Session reconciles one client's view of one game. All methods are safe for
// concurrent use; the session never blocks on network inside its lock.
type Session struct {
	engine Engine
	gameID string
	userID string

	mu           sync.Mutex
	state        ConnState
	localVersion int             // last fully reconciled server version
	board        checkers.Board  // authoritative board at localVersion
	optimistic   checkers.Board  // board plus unconfirmed local moves
	queue        []checkers.Move // moves made while not connected, FIFO
}

func NewSession(engine Engine, gameID, userID string) *Session {
	return &Session{
		engine: engine,
		gameID: gameID,
		userID: userID,
		state:  StateDisconnected,
	}
}

// Connect fetches authoritative state and moves the session to Connected.
// Used both for the initial attach and after a reconnect; the stream is never
// trusted to backfill events missed while away.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	g, err := s.engine.GetGameState(ctx, s.gameID)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}
	board, err := checkers.Parse(g.Board)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("authoritative board: %w", err)
	}

	s.mu.Lock()
	s.state = StateConnected
	s.localVersion = g.Version
	s.board = board
	s.rebuildOptimisticLocked()
	s.mu.Unlock()

	obslog.L().Debug("session_connect", zap.String("game_id", s.gameID), zap.Int("version", g.Version))
	return nil
}

// MarkDisconnected flips the session offline. Subsequent moves queue locally.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Reconnect re-fetches authoritative state, then flushes the offline queue
// strictly in order. The first rejected or twice-conflicted move halts the
// flush; moves behind it remain queued.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateReconnecting
	s.mu.Unlock()
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.flush(ctx)
}

// ProposeMove applies the move optimistically and either sends it now or
// queues it until reconnect.
func (s *Session) ProposeMove(ctx context.Context, mv checkers.Move) error {
	s.mu.Lock()
	next, err := checkers.Apply(s.optimistic, mv)
	if err != nil {
		s.mu.Unlock()
		return game.ErrIllegalMove
	}
	s.optimistic = next
	if s.state != StateConnected {
		s.queue = append(s.queue, mv)
		n := len(s.queue)
		s.mu.Unlock()
		obslog.L().Debug("session_queue", zap.String("game_id", s.gameID), zap.Int("depth", n))
		return nil
	}
	s.mu.Unlock()
	return s.send(ctx, mv)
}

// send submits one move, reconciling through at most one version conflict. A
// second conflict on the retry surfaces to the caller rather than looping.
func (s *Session) send(ctx context.Context, mv checkers.Move) error {
	var lastConflict error
	for attempt := 0; attempt < 2; attempt++ {
		s.mu.Lock()
		version := s.localVersion
		s.mu.Unlock()

		g, _, err := s.engine.SubmitMove(ctx, s.gameID, s.userID, mv, version)
		if err == nil {
			return s.adopt(g)
		}

		var vc *game.VersionConflictError
		if errors.As(err, &vc) {
			if rerr := s.reconcile(vc); rerr != nil {
				return rerr
			}
			obslog.L().Debug("session_conflict",
				zap.String("game_id", s.gameID),
				zap.Int("server_version", vc.ServerVersion),
				zap.Int("attempt", attempt+1),
			)
			lastConflict = err
			continue
		}
		// hard rejection: roll the optimistic board back
		s.mu.Lock()
		s.rebuildOptimisticLocked()
		s.mu.Unlock()
		return err
	}
	return lastConflict
}

// adopt takes a confirmed post-mutation state as the new reconciled baseline.
func (s *Session) adopt(g *game.Game) error {
	board, err := checkers.Parse(g.Board)
	if err != nil {
		return fmt.Errorf("confirmed board: %w", err)
	}
	s.mu.Lock()
	s.localVersion = g.Version
	s.board = board
	s.rebuildOptimisticLocked()
	s.mu.Unlock()
	return nil
}

// reconcile discards speculative state and replays the authoritative missed
// moves onto the last-known-good board.
func (s *Session) reconcile(vc *game.VersionConflictError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range vc.MissedMoves {
		if e.MoveIndex < s.localVersion {
			continue
		}
		next, err := checkers.Apply(s.board, e.Move())
		if err != nil {
			return fmt.Errorf("replay missed move %d: %w", e.MoveIndex, err)
		}
		s.board = next
	}
	s.localVersion = vc.ServerVersion
	s.rebuildOptimisticLocked()
	return nil
}

// ObserveEvent folds a broadcast event into the session. Stale or duplicate
// events are ignored; the stream is advisory, never authoritative.
func (s *Session) ObserveEvent(ev *gamedto.Event) {
	if ev == nil || ev.Game == nil || ev.GameID != s.gameID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Game.Version <= s.localVersion {
		return
	}
	board, err := checkers.Parse(ev.Game.Board)
	if err != nil {
		return
	}
	s.localVersion = ev.Game.Version
	s.board = board
	s.rebuildOptimisticLocked()
}

// flush drains the offline queue in FIFO order with a single in-flight move.
func (s *Session) flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		mv := s.queue[0]
		s.mu.Unlock()

		if err := s.send(ctx, mv); err != nil {
			// drop the rejected head but keep the rest queued, in order
			s.mu.Lock()
			s.queue = s.queue[1:]
			depth := len(s.queue)
			s.rebuildOptimisticLocked()
			s.mu.Unlock()
			obslog.L().Warn("session_flush_halt",
				zap.String("game_id", s.gameID),
				zap.Int("remaining", depth),
				zap.Error(err),
			)
			return errors.Join(ErrQueueHalted, err)
		}
		s.mu.Lock()
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

// rebuildOptimisticLocked recomputes the display board: the reconciled board
// with every queued move layered on. A queued move the new baseline no longer
// admits is skipped; it will fail properly at flush time.
func (s *Session) rebuildOptimisticLocked() {
	s.optimistic = s.board
	for _, mv := range s.queue {
		next, err := checkers.Apply(s.optimistic, mv)
		if err != nil {
			continue
		}
		s.optimistic = next
	}
}

// State reports the connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalVersion is the last fully reconciled server version.
func (s *Session) LocalVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localVersion
}

// Board returns the optimistic board shown to the user.
func (s *Session) Board() checkers.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimistic
}

// QueueDepth reports how many moves await flushing.
func (s *Session) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
