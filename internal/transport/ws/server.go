// Package ws is the websocket transport: it upgrades HTTP connections,
// decodes client frames, drives the match engine, and pumps broadcast events
// down to subscribers. The transport holds no game state of its own.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/checkers-live/internal/broker"
	"github.com/kapu/checkers-live/internal/game"
	"github.com/kapu/checkers-live/internal/match"
	"github.com/kapu/checkers-live/internal/msgcat"
	"github.com/kapu/checkers-live/internal/obslog"
	"github.com/kapu/checkers-live/internal/presence"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

type Server struct {
	manager *match.Manager
	events  *broker.Broker
	tracker *presence.Tracker
	catalog *msgcat.Catalog
}

func NewServer(manager *match.Manager, events *broker.Broker, tracker *presence.Tracker, catalog *msgcat.Catalog) *Server {
	return &Server{manager: manager, events: events, tracker: tracker, catalog: catalog}
}

// Routes mounts the websocket endpoint plus health and game-creation REST
// helpers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/games", s.handleCreateGame)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := identityFrom(r)
	g, err := s.manager.CreateGame(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"game_id":"` + g.ID + `"}`))
}

// identityFrom resolves the caller: an authenticated user id from the gateway
// headers, or a generated guest session token. The engine treats both
// uniformly.
func identityFrom(r *http.Request) game.Identity {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	name := strings.TrimSpace(r.Header.Get("X-User-Name"))
	if id != "" {
		return game.Identity{ID: id, Name: name}
	}
	guest := strings.TrimSpace(r.Header.Get("X-Guest-Session"))
	if guest == "" {
		guest = "guest-" + uuid.NewString()
	}
	if name == "" {
		name = "Guest"
	}
	return game.Identity{ID: guest, Name: name, IsGuest: true}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	c := &clientConn{
		srv:      s,
		conn:     conn,
		identity: identityFrom(r),
	}
	defer c.teardown()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c.ctx = ctx

	obslog.L().Info("ws_open", zap.String("user_id", c.identity.ID), zap.Bool("guest", c.identity.IsGuest))
	c.readLoop(ctx)
}

// clientConn is the per-socket state: identity, the joined game, the broker
// subscription, and a write lock shared by the request path and event pump.
type clientConn struct {
	srv      *Server
	conn     *websocket.Conn
	identity game.Identity
	ctx      context.Context

	writeMu sync.Mutex

	gameID string
	role   game.Role
	connID string
	sub    *broker.Subscription
}

func (c *clientConn) readLoop(ctx context.Context) {
	for {
		var frame gamedto.ClientFrame
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			if ctx.Err() == nil {
				obslog.L().Debug("ws_read_error", zap.String("user_id", c.identity.ID), zap.Error(err))
			}
			return
		}
		c.dispatch(ctx, &frame)
	}
}

func (c *clientConn) dispatch(ctx context.Context, f *gamedto.ClientFrame) {
	switch f.Type {
	case "join":
		c.handleJoin(ctx, f)
	case "move":
		c.handleMove(ctx, f)
	case "draw_offer":
		g, err := c.srv.manager.RequestDraw(ctx, c.gameID, c.identity.ID)
		c.replyMutation(ctx, g, err)
	case "draw_response":
		g, err := c.srv.manager.RespondToDraw(ctx, c.gameID, c.identity.ID, f.Accept)
		c.replyMutation(ctx, g, err)
	case "resign":
		g, err := c.srv.manager.Resign(ctx, c.gameID, c.identity.ID)
		c.replyMutation(ctx, g, err)
	case "sync":
		c.handleSync(ctx, f)
	case "ping":
		c.write(ctx, &gamedto.ServerFrame{Type: "pong"})
	default:
		c.write(ctx, &gamedto.ServerFrame{Type: "error", Code: gamedto.CodeBadRequest, Detail: "unknown frame type: " + f.Type})
	}
}

func (c *clientConn) handleJoin(ctx context.Context, f *gamedto.ClientFrame) {
	if f.GameID == "" {
		c.write(ctx, &gamedto.ServerFrame{Type: "error", Code: gamedto.CodeBadRequest, Detail: "game_id required"})
		return
	}
	role, g, err := c.srv.manager.Join(ctx, f.GameID, c.identity)
	if err != nil {
		c.writeRejection(ctx, err)
		return
	}

	// replace any previous attachment; one game per socket
	c.detach()
	c.gameID = g.ID
	c.role = role
	c.connID = c.srv.tracker.Connect(c.identity.ID, g.ID, role)
	topics := []string{broker.GameTopic(g.ID)}
	if role != game.RoleSpectator {
		topics = append(topics, broker.UserTopic(c.identity.ID))
	}
	c.sub = c.srv.events.Subscribe(c.ctx, topics...)
	go c.pumpEvents(c.sub)

	pres := c.srv.tracker.Snapshot(g.ID)
	c.write(ctx, &gamedto.ServerFrame{
		Type:     "joined",
		Role:     role,
		Game:     gamedto.SnapshotOf(g),
		Presence: &pres,
	})
}

func (c *clientConn) handleMove(ctx context.Context, f *gamedto.ClientFrame) {
	if c.gameID == "" || f.Move == nil {
		c.write(ctx, &gamedto.ServerFrame{Type: "error", Code: gamedto.CodeBadRequest, Detail: "join a game and include a move"})
		return
	}
	g, _, err := c.srv.manager.SubmitMove(ctx, c.gameID, c.identity.ID, *f.Move, f.ClientVersion)
	if err != nil {
		var vc *game.VersionConflictError
		if errors.As(err, &vc) {
			c.write(ctx, &gamedto.ServerFrame{
				Type:          "conflict",
				ServerVersion: vc.ServerVersion,
				MissedMoves:   vc.MissedMoves,
			})
			return
		}
		c.writeRejection(ctx, err)
		return
	}
	c.write(ctx, &gamedto.ServerFrame{Type: "accepted", Game: gamedto.SnapshotOf(g)})
}

func (c *clientConn) handleSync(ctx context.Context, f *gamedto.ClientFrame) {
	gameID := f.GameID
	if gameID == "" {
		gameID = c.gameID
	}
	if gameID == "" {
		c.write(ctx, &gamedto.ServerFrame{Type: "error", Code: gamedto.CodeBadRequest, Detail: "game_id required"})
		return
	}
	g, err := c.srv.manager.GetGameState(ctx, gameID)
	if err != nil {
		c.writeRejection(ctx, err)
		return
	}
	log, err := c.srv.manager.MovesSince(ctx, gameID, f.SinceVersion)
	if err != nil {
		c.writeRejection(ctx, err)
		return
	}
	pres := c.srv.tracker.Snapshot(gameID)
	c.write(ctx, &gamedto.ServerFrame{
		Type:          "state",
		Game:          gamedto.SnapshotOf(g),
		Log:           log,
		ServerVersion: g.Version,
		Presence:      &pres,
	})
}

func (c *clientConn) replyMutation(ctx context.Context, g *game.Game, err error) {
	if err != nil {
		c.writeRejection(ctx, err)
		return
	}
	c.write(ctx, &gamedto.ServerFrame{Type: "accepted", Game: gamedto.SnapshotOf(g)})
}

// pumpEvents forwards broadcast events until the subscription closes.
func (c *clientConn) pumpEvents(sub *broker.Subscription) {
	for ev := range sub.C {
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		c.write(ctx, &gamedto.ServerFrame{Type: "event", Event: ev})
		cancel()
	}
}

func (c *clientConn) write(ctx context.Context, f *gamedto.ServerFrame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.conn, f); err != nil {
		obslog.L().Debug("ws_write_error", zap.String("user_id", c.identity.ID), zap.Error(err))
	}
}

func (c *clientConn) writeRejection(ctx context.Context, err error) {
	code, key := codeFor(err)
	detail := err.Error()
	if c.srv.catalog != nil && key != "" {
		if msg, rerr := c.srv.catalog.Render(key, c.rejectionData(ctx, err)); rerr == nil {
			detail = msg
		}
	}
	c.write(ctx, &gamedto.ServerFrame{Type: "rejected", Code: code, Detail: detail})
}

func (c *clientConn) detach() {
	if c.connID != "" {
		c.srv.tracker.Disconnect(c.connID)
		c.connID = ""
	}
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

func (c *clientConn) teardown() {
	c.detach()
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	obslog.L().Info("ws_close", zap.String("user_id", c.identity.ID), zap.String("game_id", c.gameID))
}

// codeFor maps a domain error to its wire code and catalog key.
func codeFor(err error) (code, catalogKey string) {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		return gamedto.CodeGameNotFound, "reject.game_not_found"
	case errors.Is(err, game.ErrGameEnded):
		return gamedto.CodeGameEnded, "reject.game_ended"
	case errors.Is(err, game.ErrWaitingForOpponent):
		return gamedto.CodeWaitingForOpponent, "reject.waiting_for_opponent"
	case errors.Is(err, game.ErrNotYourTurn):
		return gamedto.CodeNotYourTurn, "reject.not_your_turn"
	case errors.Is(err, game.ErrOutOfBounds):
		return gamedto.CodeOutOfBounds, "reject.out_of_bounds"
	case errors.Is(err, game.ErrIllegalMove):
		return gamedto.CodeIllegalMove, "reject.illegal_move"
	case errors.Is(err, game.ErrDrawPending):
		return gamedto.CodeDrawPending, "reject.draw_pending"
	case errors.Is(err, game.ErrNoDrawPending):
		return gamedto.CodeNoDrawPending, "reject.no_draw_pending"
	case errors.Is(err, game.ErrOwnDrawOffer):
		return gamedto.CodeForbidden, "reject.own_draw_offer"
	case errors.Is(err, game.ErrForbidden):
		return gamedto.CodeForbidden, "reject.forbidden"
	case errors.Is(err, game.ErrStoreUnavailable):
		return gamedto.CodeStoreUnavailable, ""
	default:
		return gamedto.CodeBadRequest, ""
	}
}

// rejectionData supplies the template fields the catalog entries reference.
// The ended-game message names the result, which the sentinel alone does not
// carry; a follow-up read fills it in.
func (c *clientConn) rejectionData(ctx context.Context, err error) map[string]string {
	switch {
	case errors.Is(err, game.ErrGameEnded):
		return map[string]string{"Winner": c.gameResult(ctx)}
	default:
		return map[string]string{}
	}
}

// gameResult renders the outcome of the joined game, or "" when unknown.
func (c *clientConn) gameResult(ctx context.Context) string {
	if c.gameID == "" {
		return ""
	}
	g, err := c.srv.manager.GetGameState(ctx, c.gameID)
	if err != nil || g.Winner == "" {
		return ""
	}
	if g.Winner == game.WinnerDraw {
		return "drawn"
	}
	return g.Winner + " won"
}
