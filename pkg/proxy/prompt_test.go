package proxy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestPersona(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"SOUL.md": "  Curious and kind.  \n",
		"USER.md": "Owner likes brevity.",
	})
	p := &Prompts{Workspace: dir, PersonaEnabled: true, MaxChars: 12000}

	got := p.Persona()
	if !strings.Contains(got, "[SOUL] (SOUL.md)\nCurious and kind.") {
		t.Errorf("missing SOUL section: %q", got)
	}
	if strings.Contains(got, "IDENTITY") {
		t.Errorf("missing file should be skipped: %q", got)
	}
	if strings.Index(got, "[SOUL]") > strings.Index(got, "[USER]") {
		t.Errorf("sections out of order: %q", got)
	}
}

func TestPersonaTruncated(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"SOUL.md": strings.Repeat("é", 500)})
	p := &Prompts{Workspace: dir, PersonaEnabled: true, MaxChars: 200}

	got := p.Persona()
	if !strings.HasSuffix(got, personaTruncated) {
		t.Fatalf("expected truncation marker: %q", got)
	}
	body := strings.TrimSuffix(got, personaTruncated)
	if n := len([]rune(body)); n > 200 {
		t.Errorf("persona body has %d characters, want <= 200", n)
	}
}

func TestPersonaDisabledOrEmpty(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"SOUL.md": "x"})

	if got := (&Prompts{Workspace: dir}).Persona(); got != "" {
		t.Errorf("disabled persona = %q", got)
	}
	if got := (&Prompts{Workspace: t.TempDir(), PersonaEnabled: true}).Persona(); got != "" {
		t.Errorf("empty workspace persona = %q", got)
	}
	var nilPrompts *Prompts
	if got := nilPrompts.Persona(); got != "" {
		t.Errorf("nil prompts persona = %q", got)
	}
}

func TestMessages(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{"IDENTITY.md": "Name: Echo"})
	p := &Prompts{Workspace: dir, PersonaEnabled: true, MaxChars: 1000}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))

	msgs := p.Messages(now)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.Role != "developer" {
			t.Errorf("role = %q, want developer", m.Role)
		}
	}
	if msgs[1].Content != voiceOverlay {
		t.Errorf("second message should be the voice overlay")
	}
	if msgs[2].Content != "Current UTC time: 2026-01-02T02:04:05Z" {
		t.Errorf("time message = %q", msgs[2].Content)
	}
}
