package presence

import (
	"testing"

	"github.com/kapu/checkers-live/internal/game"
)

func TestSnapshotCountsRolesPerGame(t *testing.T) {
	tr := NewTracker()

	c1 := tr.Connect("A", "g1", game.RolePlayer1)
	tr.Connect("B", "g1", game.RolePlayer2)
	tr.Connect("C", "g1", game.RoleSpectator)
	tr.Connect("D", "g1", game.RoleSpectator)
	tr.Connect("E", "g2", game.RolePlayer1)

	p := tr.Snapshot("g1")
	if !p.Player1Connected || !p.Player2Connected || p.Spectators != 2 {
		t.Fatalf("snapshot = %+v", p)
	}
	p2 := tr.Snapshot("g2")
	if !p2.Player1Connected || p2.Player2Connected || p2.Spectators != 0 {
		t.Fatalf("g2 snapshot = %+v", p2)
	}

	tr.Disconnect(c1)
	if p := tr.Snapshot("g1"); p.Player1Connected {
		t.Fatalf("player1 still connected after disconnect: %+v", p)
	}
	// unknown ids are a no-op
	tr.Disconnect("missing")
}

func TestDuplicateConnectionsKeepPlayerOnline(t *testing.T) {
	tr := NewTracker()
	old := tr.Connect("A", "g1", game.RolePlayer1)
	fresh := tr.Connect("A", "g1", game.RolePlayer1)

	tr.Disconnect(old)
	if p := tr.Snapshot("g1"); !p.Player1Connected {
		t.Fatalf("reconnect dropped presence: %+v", p)
	}
	tr.Disconnect(fresh)
	if p := tr.Snapshot("g1"); p.Player1Connected {
		t.Fatalf("presence leaked: %+v", p)
	}
}
