package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kapu/checkers-live/internal/checkers"
	"github.com/kapu/checkers-live/internal/game"
	"github.com/kapu/checkers-live/pkg/gamedto"
)

// fakeEngine is a local stand-in for the authoritative engine: real board
// rules, real version gating, scriptable per-call rejections.
type fakeEngine struct {
	mu      sync.Mutex
	g       game.Game
	log     []game.MoveLogEntry
	submits []checkers.Move
	rejects map[int]error // submit call index -> forced error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		g: game.Game{
			ID:        "g1",
			Board:     checkers.Initial().String(),
			Turn:      game.SideRed,
			Player1ID: "A",
			Player2ID: "B",
		},
		rejects: map[int]error{},
	}
}

func (f *fakeEngine) SubmitMove(_ context.Context, _, actorID string, mv checkers.Move, clientVersion int) (*game.Game, *game.MoveLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.submits)
	f.submits = append(f.submits, mv)
	if err, ok := f.rejects[call]; ok {
		return nil, nil, err
	}
	if clientVersion != f.g.Version {
		missed := append([]game.MoveLogEntry(nil), f.log[clientVersion:]...)
		return nil, nil, &game.VersionConflictError{ServerVersion: f.g.Version, MissedMoves: missed}
	}
	board, err := checkers.Parse(f.g.Board)
	if err != nil {
		return nil, nil, err
	}
	next, err := checkers.Apply(board, mv)
	if err != nil {
		return nil, nil, game.ErrIllegalMove
	}
	side, _ := f.g.SideOf(actorID)
	e := game.MoveLogEntry{GameID: f.g.ID, MoveIndex: f.g.Version, Side: side, From: mv.From, To: mv.To, Captures: mv.Captures}
	f.log = append(f.log, e)
	f.g.Board = next.String()
	f.g.Version++
	f.g.MoveCount++
	f.g.Turn = f.g.Turn.Opponent()
	out := f.g
	return &out, &e, nil
}

func (f *fakeEngine) state() *game.Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.g
	return &out
}

type engineAdapter struct{ f *fakeEngine }

func (a engineAdapter) SubmitMove(ctx context.Context, gameID, actorID string, mv checkers.Move, v int) (*game.Game, *game.MoveLogEntry, error) {
	return a.f.SubmitMove(ctx, gameID, actorID, mv, v)
}

func (a engineAdapter) GetGameState(context.Context, string) (*game.Game, error) {
	return a.f.state(), nil
}

func connectedSession(t *testing.T, f *fakeEngine) *Session {
	t.Helper()
	s := NewSession(engineAdapter{f}, "g1", "A")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func redOpening() checkers.Move {
	return checkers.Move{From: checkers.Square{Row: 2, Col: 1}, To: checkers.Square{Row: 3, Col: 2}}
}

func blackReply() checkers.Move {
	return checkers.Move{From: checkers.Square{Row: 5, Col: 0}, To: checkers.Square{Row: 4, Col: 1}}
}

func TestProposeMoveConnected(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)

	if err := s.ProposeMove(context.Background(), redOpening()); err != nil {
		t.Fatalf("ProposeMove: %v", err)
	}
	if s.LocalVersion() != 1 {
		t.Fatalf("localVersion = %d, want 1", s.LocalVersion())
	}
	if s.QueueDepth() != 0 {
		t.Fatalf("queue depth = %d", s.QueueDepth())
	}
	if s.Board().At(checkers.Square{Row: 3, Col: 2}) != checkers.RedMan {
		t.Fatalf("board not updated:\n%s", s.Board().Pretty())
	}
}

func TestOfflineMovesQueueInOrder(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)
	s.MarkDisconnected()

	m1 := redOpening()
	m2 := checkers.Move{From: checkers.Square{Row: 3, Col: 2}, To: checkers.Square{Row: 4, Col: 3}}
	if err := s.ProposeMove(context.Background(), m1); err != nil {
		t.Fatalf("queue m1: %v", err)
	}
	if err := s.ProposeMove(context.Background(), m2); err != nil {
		t.Fatalf("queue m2: %v", err)
	}
	if s.QueueDepth() != 2 || len(f.submits) != 0 {
		t.Fatalf("depth=%d submits=%d, nothing should reach the server offline", s.QueueDepth(), len(f.submits))
	}
	// optimistic board already shows both moves
	if s.Board().At(checkers.Square{Row: 4, Col: 3}) != checkers.RedMan {
		t.Fatalf("optimistic board missing queued moves:\n%s", s.Board().Pretty())
	}
}

func TestReconnectFlushesQueue(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)
	s.MarkDisconnected()

	m1 := redOpening()
	if err := s.ProposeMove(context.Background(), m1); err != nil {
		t.Fatal(err)
	}
	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if s.QueueDepth() != 0 || s.LocalVersion() != 1 {
		t.Fatalf("depth=%d version=%d after flush", s.QueueDepth(), s.LocalVersion())
	}
	if len(f.submits) != 1 || !f.submits[0].Equal(m1) {
		t.Fatalf("submits = %+v", f.submits)
	}
}

func TestFlushHaltsOnRejection(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)
	s.MarkDisconnected()

	m1 := redOpening()
	m2 := checkers.Move{From: checkers.Square{Row: 2, Col: 3}, To: checkers.Square{Row: 3, Col: 4}}
	m3 := checkers.Move{From: checkers.Square{Row: 2, Col: 5}, To: checkers.Square{Row: 3, Col: 6}}
	for _, mv := range []checkers.Move{m1, m2, m3} {
		if err := s.ProposeMove(context.Background(), mv); err != nil {
			t.Fatal(err)
		}
	}
	// the server rejects the second flushed move outright
	f.rejects[1] = game.ErrNotYourTurn

	err := s.Reconnect(context.Background())
	if !errors.Is(err, ErrQueueHalted) || !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("err = %v, want halted flush wrapping the rejection", err)
	}
	// m3 was never transmitted and stays queued
	if len(f.submits) != 2 {
		t.Fatalf("submits = %d, m3 must not be sent after m2 fails", len(f.submits))
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d, m3 should remain", s.QueueDepth())
	}
}

func TestConflictReconcilesAndRetriesOnce(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)

	// opponent-side move lands first; our session is now one version stale
	if _, _, err := f.SubmitMove(context.Background(), "g1", "A", redOpening(), 0); err != nil {
		t.Fatal(err)
	}

	if err := s.ProposeMove(context.Background(), blackReply()); err != nil {
		t.Fatalf("ProposeMove through conflict: %v", err)
	}
	if s.LocalVersion() != 2 {
		t.Fatalf("localVersion = %d, want 2 after reconcile+retry", s.LocalVersion())
	}
	// call 0 was the direct server submit, 1 the conflicted attempt, 2 the retry
	if len(f.submits) != 3 {
		t.Fatalf("submits = %d", len(f.submits))
	}
}

func TestSecondConflictSurfaces(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)

	// both attempts come back as conflicts
	f.rejects[0] = &game.VersionConflictError{ServerVersion: 0}
	f.rejects[1] = &game.VersionConflictError{ServerVersion: 0}

	err := s.ProposeMove(context.Background(), redOpening())
	var vc *game.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("err = %v, want surfaced conflict after single retry", err)
	}
	if len(f.submits) != 2 {
		t.Fatalf("submits = %d, want exactly 2 (no retry storm)", len(f.submits))
	}
}

// corruptStateEngine serves an unparseable board, the one way a successful
// fetch can still fail to attach.
type corruptStateEngine struct{}

func (corruptStateEngine) SubmitMove(context.Context, string, string, checkers.Move, int) (*game.Game, *game.MoveLogEntry, error) {
	return nil, nil, game.ErrIllegalMove
}

func (corruptStateEngine) GetGameState(context.Context, string) (*game.Game, error) {
	return &game.Game{ID: "g1", Board: "not a board"}, nil
}

func TestConnectRollsBackOnCorruptState(t *testing.T) {
	s := NewSession(corruptStateEngine{}, "g1", "A")
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect accepted a corrupt board")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s after failed connect, want %s", s.State(), StateDisconnected)
	}
}

func TestObserveEventAdvancesBaseline(t *testing.T) {
	f := newFakeEngine()
	s := connectedSession(t, f)

	g, _, err := f.SubmitMove(context.Background(), "g1", "A", redOpening(), 0)
	if err != nil {
		t.Fatal(err)
	}
	s.ObserveEvent(&gamedto.Event{Type: gamedto.EventMoveConfirmed, GameID: "g1", Game: gamedto.SnapshotOf(g)})
	if s.LocalVersion() != 1 {
		t.Fatalf("localVersion = %d after event", s.LocalVersion())
	}
	// stale duplicate is ignored
	s.ObserveEvent(&gamedto.Event{Type: gamedto.EventMoveConfirmed, GameID: "g1", Game: &gamedto.Snapshot{ID: "g1", Version: 0, Board: checkers.Initial().String()}})
	if s.LocalVersion() != 1 {
		t.Fatalf("stale event regressed version to %d", s.LocalVersion())
	}
}
