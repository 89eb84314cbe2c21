package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := c.Render("battle.completed", map[string]any{
		"battle_id":  "b1",
		"winner_id":  "alice",
		"turn_count": 12,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, "12") {
		t.Fatalf("rendered = %q", out)
	}

	if _, err := c.Render("battle.nonexistent", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	// Missing data keys surface as errors, not "<no value>".
	if _, err := c.Render("battle.completed", map[string]any{"battle_id": "b1"}); err == nil {
		t.Fatalf("expected error for missing template data")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "battle:\n  completed: \"GG {{.winner_id}}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "messages.en.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := c.Render("battle.completed", map[string]any{"winner_id": "alice"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "GG alice" {
		t.Fatalf("override render = %q", out)
	}

	// Keys the override does not touch keep the embedded text.
	out, err = c.Render("quest.completed", map[string]any{"quest_id": "q1", "experience": 100})
	if err != nil {
		t.Fatalf("Render embedded fallback: %v", err)
	}
	if !strings.Contains(out, "q1") {
		t.Fatalf("fallback render = %q", out)
	}
}
