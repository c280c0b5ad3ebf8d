package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaultsLoad(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("reject.not_your_turn", nil)
	if err != nil || got == "" {
		t.Fatalf("Render: %q err=%v", got, err)
	}
	got, err = c.Render("notify.game_ended", map[string]string{"Winner": "red"})
	if err != nil || !strings.Contains(got, "red") {
		t.Fatalf("Render with data: %q err=%v", got, err)
	}
}

func TestMissingKeyAndMissingData(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("reject.nonexistent", nil); err == nil {
		t.Fatal("expected error for unknown key")
	}
	// missingkey=error: template references .Winner
	if _, err := c.Render("notify.game_ended", map[string]string{}); err == nil {
		t.Fatal("expected error for missing template data")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "reject:\n  not_your_turn: \"Hold on, opponent is thinking.\"\n"
	if err := os.WriteFile(filepath.Join(dir, "override.yaml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("reject.not_your_turn", nil)
	if err != nil || got != "Hold on, opponent is thinking." {
		t.Fatalf("override not applied: %q err=%v", got, err)
	}
	// untouched keys keep their defaults
	if _, err := c.Render("reject.illegal_move", nil); err != nil {
		t.Fatalf("default lost after override: %v", err)
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("reject:\n  game_ended: \"x\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
