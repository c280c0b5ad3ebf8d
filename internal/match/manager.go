// Package match is the authoritative synchronization engine: it validates
// proposed moves against the rules and the optimistic-concurrency token,
// applies them inside a Redis WATCH transaction, and fans confirmed state out
// to every interested party. The transaction is the sole serialization point;
// no in-process locks guard the game record.
package match

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/checkers-live/internal/broker"
	"github.com/kapu/checkers-live/internal/checkers"
	"github.com/kapu/checkers-live/internal/game"
	"github.com/kapu/checkers-live/internal/obslog"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

// Notification kinds accepted by the sink.
const (
	NotifyGameEnded        = "GameEnded"
	NotifyOpponentResigned = "OpponentResigned"
)

// Notifier is the external inbox sink. Calls are fire-and-forget; the engine
// never blocks a caller on notification delivery.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, gameID string, payload map[string]string)
}

type Manager struct {
	rdb    *redis.Client
	store  *Store
	rules  checkers.Rules
	events *broker.Broker

	notifier Notifier
	repo     *Repository
}

func NewManager(rdb *redis.Client, rules checkers.Rules, ttl time.Duration) *Manager {
	return &Manager{
		rdb:    rdb,
		store:  NewStore(rdb, ttl),
		rules:  rules,
		events: broker.New(rdb),
	}
}

// AttachNotifier wires the notification sink; nil disables notifications.
func (m *Manager) AttachNotifier(n Notifier) { m.notifier = n }

// AttachRepository wires the Postgres archive for concluded games.
func (m *Manager) AttachRepository(r *Repository) { m.repo = r }

// CreateGame opens a new record in LOBBY with the creator seated as red.
func (m *Manager) CreateGame(ctx context.Context, creator game.Identity) (*game.Game, error) {
	if creator.ID == "" {
		return nil, game.ErrForbidden
	}
	now := time.Now()
	g := &game.Game{
		ID:           uuid.NewString(),
		Board:        checkers.Initial().String(),
		Turn:         game.SideRed,
		Player1ID:    creator.ID,
		Player1Name:  creator.Name,
		Player1Guest: creator.IsGuest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveGame(ctx, m.rdb, g); err != nil {
		return nil, storeErr(err)
	}
	if err := m.store.IndexParticipant(ctx, m.rdb, g.ID, creator.ID); err != nil {
		return nil, storeErr(err)
	}
	obslog.L().Info("game_create", zap.String("game_id", g.ID), zap.String("player1", creator.ID), zap.Bool("guest", creator.IsGuest))
	return g, nil
}

// Join resolves the caller's role. The first stranger claims the open second
// slot under WATCH; everyone after that spectates. Rejoining with an identity
// already seated is idempotent and mutates nothing.
func (m *Manager) Join(ctx context.Context, gameID string, viewer game.Identity) (game.Role, *game.Game, error) {
	var (
		joined *game.Game
		role   game.Role
	)
	key := m.store.keyGame(gameID)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := m.store.LoadGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if cur == nil {
			return game.ErrGameNotFound
		}
		role = cur.RoleOf(viewer.ID)
		if role != game.RoleSpectator || cur.Player2ID != "" || cur.Terminal() || viewer.ID == "" {
			joined = cur
			return nil
		}
		// claim the open slot; a guest claim is a display-name binding that
		// lives as long as the record does (see DESIGN.md)
		cur.Player2ID = viewer.ID
		cur.Player2Name = viewer.Name
		cur.Player2Guest = viewer.IsGuest
		cur.UpdatedAt = time.Now()
		pipe := tx.TxPipeline()
		if err := m.store.SaveGame(ctx, pipe, cur); err != nil {
			return err
		}
		if err := m.store.IndexParticipant(ctx, pipe, cur.ID, viewer.ID); err != nil {
			return err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		role = game.RolePlayer2
		joined = cur
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// someone else claimed the slot first; re-resolve as a plain read
			g, gerr := m.GetGameState(ctx, gameID)
			if gerr != nil {
				return "", nil, gerr
			}
			return g.RoleOf(viewer.ID), g, nil
		}
		return "", nil, asDomainErr(err)
	}
	if role == game.RolePlayer2 && joined.Player2ID == viewer.ID && joined.Phase() == game.PhaseActive {
		obslog.L().Info("lobby_claim",
			zap.String("game_id", joined.ID),
			zap.String("player2", viewer.ID),
			zap.Bool("guest", viewer.IsGuest),
		)
		m.publish(ctx, gamedto.EventPlayerJoined, joined, nil)
	}
	return role, joined, nil
}

// SubmitMove validates and applies one move. Preconditions run in a fixed
// order, each with its own error: terminal game, unfilled slots, version,
// turn ownership, bounds, legality. The version comparison and the update
// commit in the same transaction, so at most one submission can succeed per
// version.
func (m *Manager) SubmitMove(ctx context.Context, gameID, actorID string, mv checkers.Move, clientVersion int) (*game.Game, *game.MoveLogEntry, error) {
	var (
		updated  *game.Game
		entry    *game.MoveLogEntry
		conflict *game.VersionConflictError
	)
	key := m.store.keyGame(gameID)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := m.store.LoadGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if cur == nil {
			return game.ErrGameNotFound
		}
		if cur.Terminal() {
			return game.ErrGameEnded
		}
		if cur.Phase() == game.PhaseLobby {
			return game.ErrWaitingForOpponent
		}
		if clientVersion != cur.Version {
			missed, lerr := m.store.LogSince(ctx, tx, gameID, clientVersion)
			if lerr != nil {
				return lerr
			}
			conflict = &game.VersionConflictError{ServerVersion: cur.Version, MissedMoves: missed}
			return conflict
		}
		side, ok := cur.SideOf(actorID)
		if !ok || side != cur.Turn {
			return game.ErrNotYourTurn
		}
		if !mv.InBounds() {
			return game.ErrOutOfBounds
		}
		board, berr := checkers.Parse(cur.Board)
		if berr != nil {
			return berr
		}
		if pc, ok := checkers.ColorOf(board.At(mv.From)); !ok || pc != side.Color() {
			return game.ErrIllegalMove
		}
		if !moveInSet(mv, m.rules.LegalMoves(board, mv.From)) {
			return game.ErrIllegalMove
		}
		next, aerr := checkers.Apply(board, mv)
		if aerr != nil {
			return game.ErrIllegalMove
		}

		now := time.Now()
		e := &game.MoveLogEntry{
			GameID:    cur.ID,
			MoveIndex: cur.Version,
			Side:      side,
			From:      mv.From,
			To:        mv.To,
			Captures:  mv.Captures,
			CreatedAt: now,
		}
		cur.Board = next.String()
		cur.Version++
		cur.MoveCount++
		cur.UpdatedAt = now
		if outcome := m.rules.EvaluateOutcome(next, side.Opponent().Color()); outcome != checkers.Ongoing {
			cur.Winner = string(outcome)
		} else {
			cur.Turn = side.Opponent()
		}

		pipe := tx.TxPipeline()
		if err := m.store.SaveGame(ctx, pipe, cur); err != nil {
			return err
		}
		if err := m.store.AppendLog(ctx, pipe, e); err != nil {
			return err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = cur
		entry = e
		return nil
	}, key)

	if err != nil {
		if conflict != nil {
			return nil, nil, conflict
		}
		if errors.Is(err, redis.TxFailedErr) {
			// a concurrent submission committed between our read and EXEC;
			// surface it as the conflict it is
			return nil, nil, m.conflictFor(ctx, gameID, clientVersion)
		}
		return nil, nil, asDomainErr(err)
	}

	obslog.L().Info("move_accept",
		zap.String("game_id", updated.ID),
		zap.Int("version", updated.Version),
		zap.String("side", string(entry.Side)),
		zap.String("move", mv.String()),
		zap.String("winner", updated.Winner),
	)
	m.publish(ctx, gamedto.EventMoveConfirmed, updated, entry)
	if updated.Terminal() {
		m.concludeGame(ctx, updated, "board")
	}
	return updated, entry, nil
}

// RequestDraw opens a draw offer; at most one may be pending.
func (m *Manager) RequestDraw(ctx context.Context, gameID, actorID string) (*game.Game, error) {
	g, err := m.mutate(ctx, gameID, func(cur *game.Game) error {
		if cur.Terminal() {
			return game.ErrGameEnded
		}
		side, ok := cur.SideOf(actorID)
		if !ok {
			return game.ErrForbidden
		}
		if cur.PendingDraw != nil {
			return game.ErrDrawPending
		}
		cur.PendingDraw = &game.DrawOffer{RequestedBy: side, RequestedAt: time.Now()}
		cur.UpdatedAt = cur.PendingDraw.RequestedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("draw_offer", zap.String("game_id", g.ID), zap.String("by", string(g.PendingDraw.RequestedBy)))
	m.publish(ctx, gamedto.EventDrawRequested, g, nil)
	return g, nil
}

// RespondToDraw accepts or declines the pending offer. The offering side
// cannot answer its own offer. Accepting ends the game as a draw and counts
// as a version increment; declining just clears the offer.
func (m *Manager) RespondToDraw(ctx context.Context, gameID, actorID string, accept bool) (*game.Game, error) {
	g, err := m.mutate(ctx, gameID, func(cur *game.Game) error {
		if cur.Terminal() {
			return game.ErrGameEnded
		}
		side, ok := cur.SideOf(actorID)
		if !ok {
			return game.ErrForbidden
		}
		if cur.PendingDraw == nil {
			return game.ErrNoDrawPending
		}
		if cur.PendingDraw.RequestedBy == side {
			return game.ErrOwnDrawOffer
		}
		cur.PendingDraw = nil
		cur.UpdatedAt = time.Now()
		if accept {
			cur.Winner = game.WinnerDraw
			cur.Version++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if accept {
		obslog.L().Info("draw_accept", zap.String("game_id", g.ID), zap.Int("version", g.Version))
		m.publish(ctx, gamedto.EventDrawAccepted, g, nil)
		m.concludeGame(ctx, g, "draw")
	} else {
		obslog.L().Info("draw_decline", zap.String("game_id", g.ID))
		m.publish(ctx, gamedto.EventDrawDeclined, g, nil)
	}
	return g, nil
}

// Resign ends the game unilaterally in favor of the opponent.
func (m *Manager) Resign(ctx context.Context, gameID, actorID string) (*game.Game, error) {
	g, err := m.mutate(ctx, gameID, func(cur *game.Game) error {
		if cur.Terminal() {
			return game.ErrGameEnded
		}
		side, ok := cur.SideOf(actorID)
		if !ok {
			return game.ErrForbidden
		}
		cur.Winner = string(side.Opponent())
		cur.ResignedBy = cur.RoleOf(actorID)
		cur.PendingDraw = nil
		cur.Version++
		cur.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("resign", zap.String("game_id", g.ID), zap.String("by", string(g.ResignedBy)), zap.String("winner", g.Winner))
	m.publish(ctx, gamedto.EventGameResigned, g, nil)
	m.concludeResignation(ctx, g, actorID)
	return g, nil
}

// GetGameState is the authoritative read used for initial load and for
// reconnect re-sync; the broadcast channel never backfills.
func (m *Manager) GetGameState(ctx context.Context, gameID string) (*game.Game, error) {
	g, err := m.store.LoadGame(ctx, m.rdb, gameID)
	if err != nil {
		return nil, storeErr(err)
	}
	if g == nil {
		return nil, game.ErrGameNotFound
	}
	return g, nil
}

// MovesSince returns the log tail from the given index, for gap replay.
func (m *Manager) MovesSince(ctx context.Context, gameID string, from int) ([]game.MoveLogEntry, error) {
	entries, err := m.store.LogSince(ctx, m.rdb, gameID, from)
	if err != nil {
		return nil, storeErr(err)
	}
	return entries, nil
}

// GamesByUser lists ids of live games the user participates in.
func (m *Manager) GamesByUser(ctx context.Context, userID string) ([]string, error) {
	return m.store.GamesByUser(ctx, userID)
}

// mutate runs fn on the current record inside a WATCH transaction and saves
// the result. fn returns a domain error to abort.
func (m *Manager) mutate(ctx context.Context, gameID string, fn func(*game.Game) error) (*game.Game, error) {
	var updated *game.Game
	key := m.store.keyGame(gameID)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := m.store.LoadGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if cur == nil {
			return game.ErrGameNotFound
		}
		if err := fn(cur); err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		if err := m.store.SaveGame(ctx, pipe, cur); err != nil {
			return err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = cur
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, game.ErrStoreUnavailable
		}
		return nil, asDomainErr(err)
	}
	return updated, nil
}

func (m *Manager) conflictFor(ctx context.Context, gameID string, clientVersion int) error {
	g, err := m.GetGameState(ctx, gameID)
	if err != nil {
		return err
	}
	missed, err := m.MovesSince(ctx, gameID, clientVersion)
	if err != nil {
		return err
	}
	return &game.VersionConflictError{ServerVersion: g.Version, MissedMoves: missed}
}

func (m *Manager) publish(ctx context.Context, typ gamedto.EventType, g *game.Game, e *game.MoveLogEntry) {
	ev := &gamedto.Event{
		Type:        typ,
		GameID:      g.ID,
		Game:        gamedto.SnapshotOf(g),
		Move:        e,
		PublishedAt: time.Now(),
	}
	m.events.Publish(ctx, ev, g.Player1ID, g.Player2ID)
}

// concludeTimeout bounds the detached archive and notification work after a
// game ends; the request context is gone by the time it runs.
const concludeTimeout = 30 * time.Second

// concludeGame archives the finished record and notifies both participants.
// Everything past the event publish runs off the request path; the mutation
// response never waits on the archive or the inbox.
func (m *Manager) concludeGame(ctx context.Context, g *game.Game, method string) {
	m.publish(ctx, gamedto.EventGameEnded, g, nil)
	payload := map[string]string{"winner": g.Winner, "board": g.Board}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), concludeTimeout)
		defer cancel()
		m.archive(ctx, g, method)
		m.notify(ctx, g.Player1ID, NotifyGameEnded, g.ID, payload)
		m.notify(ctx, g.Player2ID, NotifyGameEnded, g.ID, payload)
	}()
}

func (m *Manager) concludeResignation(ctx context.Context, g *game.Game, resignerID string) {
	m.publish(ctx, gamedto.EventGameEnded, g, nil)
	payload := map[string]string{"winner": g.Winner, "board": g.Board}
	opponent := g.Player1ID
	if opponent == resignerID {
		opponent = g.Player2ID
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), concludeTimeout)
		defer cancel()
		m.archive(ctx, g, "resignation")
		m.notify(ctx, resignerID, NotifyGameEnded, g.ID, payload)
		m.notify(ctx, opponent, NotifyOpponentResigned, g.ID, payload)
	}()
}

func (m *Manager) notify(ctx context.Context, userID, kind, gameID string, payload map[string]string) {
	if m.notifier == nil || userID == "" {
		return
	}
	m.notifier.Notify(ctx, userID, kind, gameID, payload)
}

func (m *Manager) archive(ctx context.Context, g *game.Game, method string) {
	if m.repo == nil {
		return
	}
	log, err := m.MovesSince(ctx, g.ID, 0)
	if err != nil {
		obslog.L().Error("archive_log_read_error", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	if err := m.repo.SaveResult(ctx, g, log, method); err != nil {
		obslog.L().Error("archive_save_error", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	obslog.L().Info("archive_save", zap.String("game_id", g.ID), zap.String("method", method))
}

func moveInSet(mv checkers.Move, legal []checkers.Move) bool {
	for _, l := range legal {
		if l.Equal(mv) {
			return true
		}
	}
	return false
}

// storeErr tags infrastructure failures so callers can distinguish them from
// client-caused rejections.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(game.ErrStoreUnavailable, err)
}

// asDomainErr passes sentinels and conflicts through untouched and wraps
// everything else as a store failure.
func asDomainErr(err error) error {
	var vc *game.VersionConflictError
	if errors.As(err, &vc) {
		return err
	}
	switch {
	case errors.Is(err, game.ErrGameNotFound),
		errors.Is(err, game.ErrGameEnded),
		errors.Is(err, game.ErrWaitingForOpponent),
		errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrOutOfBounds),
		errors.Is(err, game.ErrIllegalMove),
		errors.Is(err, game.ErrForbidden),
		errors.Is(err, game.ErrDrawPending),
		errors.Is(err, game.ErrNoDrawPending),
		errors.Is(err, game.ErrOwnDrawOffer):
		return err
	}
	return storeErr(err)
}
