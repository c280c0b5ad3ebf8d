package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/checkers-live/internal/broker"
	"github.com/kapu/checkers-live/internal/checkers"
	"github.com/kapu/checkers-live/internal/game"
	"github.com/kapu/checkers-live/internal/match"
	"github.com/kapu/checkers-live/internal/msgcat"
	"github.com/kapu/checkers-live/internal/presence"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

func newTestServer(t *testing.T) (*httptest.Server, *match.Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	manager := match.NewManager(rdb, checkers.Rules{MandatoryCapture: true}, time.Hour)
	srv := NewServer(manager, broker.New(rdb), presence.NewTracker(), cat)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, manager
}

func dial(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	hdr := http.Header{}
	hdr.Set("X-User-Id", userID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f *gamedto.ClientFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) *gamedto.ServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f gamedto.ServerFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return &f
}

// recvType skips pushed events until a frame of the wanted type arrives.
func recvType(t *testing.T, conn *websocket.Conn, want string) *gamedto.ServerFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		f := recv(t, conn)
		if f.Type == want {
			return f
		}
		if f.Type != "event" {
			t.Fatalf("frame type = %s (want %s): %+v", f.Type, want, f)
		}
	}
	t.Fatalf("no %s frame after 10 reads", want)
	return nil
}

func TestJoinMoveAndConflictOverWire(t *testing.T) {
	ts, manager := newTestServer(t)
	g, err := manager.CreateGame(context.Background(), game.Identity{ID: "A", Name: "Alice"})
	if err != nil {
		t.Fatal(err)
	}

	alice := dial(t, ts, "A")
	bob := dial(t, ts, "B")

	send(t, alice, &gamedto.ClientFrame{Type: "join", GameID: g.ID})
	joined := recvType(t, alice, "joined")
	if joined.Role != game.RolePlayer1 {
		t.Fatalf("alice role = %s", joined.Role)
	}

	send(t, bob, &gamedto.ClientFrame{Type: "join", GameID: g.ID})
	joined = recvType(t, bob, "joined")
	if joined.Role != game.RolePlayer2 || joined.Game.Phase != game.PhaseActive {
		t.Fatalf("bob join = %+v", joined)
	}

	mv := checkers.Move{From: checkers.Square{Row: 2, Col: 1}, To: checkers.Square{Row: 3, Col: 2}}
	send(t, alice, &gamedto.ClientFrame{Type: "move", GameID: g.ID, Move: &mv, ClientVersion: 0})
	acc := recvType(t, alice, "accepted")
	if acc.Game.Version != 1 || acc.Game.Turn != game.SideBlack {
		t.Fatalf("accepted frame = %+v", acc.Game)
	}

	// stale resubmission comes back as a structured conflict
	send(t, alice, &gamedto.ClientFrame{Type: "move", GameID: g.ID, Move: &mv, ClientVersion: 0})
	conflict := recvType(t, alice, "conflict")
	if conflict.ServerVersion != 1 || len(conflict.MissedMoves) != 1 {
		t.Fatalf("conflict frame = %+v", conflict)
	}

	// bob sees alice's move as a pushed event
	ev := recvType(t, bob, "event")
	if ev.Event == nil || ev.Event.Type != gamedto.EventMoveConfirmed {
		t.Fatalf("event frame = %+v", ev)
	}
}

func TestRejectionCarriesCatalogText(t *testing.T) {
	ts, manager := newTestServer(t)
	g, _ := manager.CreateGame(context.Background(), game.Identity{ID: "A"})

	alice := dial(t, ts, "A")
	send(t, alice, &gamedto.ClientFrame{Type: "join", GameID: g.ID})
	recvType(t, alice, "joined")

	mv := checkers.Move{From: checkers.Square{Row: 2, Col: 1}, To: checkers.Square{Row: 3, Col: 2}}
	send(t, alice, &gamedto.ClientFrame{Type: "move", GameID: g.ID, Move: &mv, ClientVersion: 0})
	rej := recvType(t, alice, "rejected")
	if rej.Code != gamedto.CodeWaitingForOpponent {
		t.Fatalf("code = %s", rej.Code)
	}
	if !strings.Contains(rej.Detail, "opponent") {
		t.Fatalf("detail = %q, want catalog text", rej.Detail)
	}
}

func TestEndedGameRejectionNamesResult(t *testing.T) {
	ts, manager := newTestServer(t)
	ctx := context.Background()
	g, _ := manager.CreateGame(ctx, game.Identity{ID: "A"})
	if _, _, err := manager.Join(ctx, g.ID, game.Identity{ID: "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Resign(ctx, g.ID, "B"); err != nil {
		t.Fatal(err)
	}

	alice := dial(t, ts, "A")
	send(t, alice, &gamedto.ClientFrame{Type: "join", GameID: g.ID})
	recvType(t, alice, "joined")

	mv := checkers.Move{From: checkers.Square{Row: 2, Col: 1}, To: checkers.Square{Row: 3, Col: 2}}
	send(t, alice, &gamedto.ClientFrame{Type: "move", GameID: g.ID, Move: &mv, ClientVersion: 1})
	rej := recvType(t, alice, "rejected")
	if rej.Code != gamedto.CodeGameEnded {
		t.Fatalf("code = %s", rej.Code)
	}
	if !strings.Contains(rej.Detail, "red won") {
		t.Fatalf("detail = %q, want the result named", rej.Detail)
	}
}

func TestSyncReturnsStateAndLog(t *testing.T) {
	ts, manager := newTestServer(t)
	ctx := context.Background()
	g, _ := manager.CreateGame(ctx, game.Identity{ID: "A"})
	if _, _, err := manager.Join(ctx, g.ID, game.Identity{ID: "B"}); err != nil {
		t.Fatal(err)
	}
	mv := checkers.Move{From: checkers.Square{Row: 2, Col: 1}, To: checkers.Square{Row: 3, Col: 2}}
	if _, _, err := manager.SubmitMove(ctx, g.ID, "A", mv, 0); err != nil {
		t.Fatal(err)
	}

	alice := dial(t, ts, "A")
	send(t, alice, &gamedto.ClientFrame{Type: "sync", GameID: g.ID, SinceVersion: 0})
	state := recvType(t, alice, "state")
	if state.ServerVersion != 1 || len(state.Log) != 1 || state.Game.Board == "" {
		t.Fatalf("state frame = %+v", state)
	}
}

func TestPingPongAndHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	alice := dial(t, ts, "A")
	send(t, alice, &gamedto.ClientFrame{Type: "ping"})
	if f := recvType(t, alice, "pong"); f == nil {
		t.Fatal("no pong")
	}

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
