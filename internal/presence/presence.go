// Package presence tracks live connections per game. It is a best-effort,
// in-memory view local to this server process; game state never depends on it.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/checkers-live/internal/game"
	"github.com/kapu/checkers-live/internal/obslog"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

type conn struct {
	userID      string
	gameID      string
	role        game.Role
	connectedAt time.Time
}

// Tracker maintains the connection table. All methods are safe for concurrent
// use.
type Tracker struct {
	mu    sync.Mutex
	conns map[string]conn
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]conn)}
}

// Connect registers a connection and returns its id for Disconnect.
func (t *Tracker) Connect(userID, gameID string, role game.Role) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.conns[id] = conn{userID: userID, gameID: gameID, role: role, connectedAt: time.Now()}
	t.mu.Unlock()
	obslog.L().Debug("presence_connect",
		zap.String("conn_id", id),
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)
	return id
}

// Disconnect drops a connection. Unknown ids are ignored.
func (t *Tracker) Disconnect(connID string) {
	t.mu.Lock()
	c, ok := t.conns[connID]
	delete(t.conns, connID)
	t.mu.Unlock()
	if ok {
		obslog.L().Debug("presence_disconnect",
			zap.String("conn_id", connID),
			zap.String("game_id", c.gameID),
			zap.Duration("session", time.Since(c.connectedAt)),
		)
	}
}

// Snapshot summarizes who is currently attached to a game. A player counts as
// connected if any of their connections is open, so a flaky client with an
// old socket still draining does not flicker to offline.
func (t *Tracker) Snapshot(gameID string) gamedto.Presence {
	var p gamedto.Presence
	t.mu.Lock()
	for _, c := range t.conns {
		if c.gameID != gameID {
			continue
		}
		switch c.role {
		case game.RolePlayer1:
			p.Player1Connected = true
		case game.RolePlayer2:
			p.Player2Connected = true
		default:
			p.Spectators++
		}
	}
	t.mu.Unlock()
	return p
}
