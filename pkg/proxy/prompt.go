package proxy

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Message is a chat message injected ahead of the caller's conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const voiceOverlay = "Voice behavior policy:\n" +
	"- Speak naturally in plain sentences without markdown, bullets, or emojis.\n" +
	"- Keep responses concise unless the caller asks for more detail.\n" +
	"- If an operation may take longer than 2 seconds, give a brief heads-up first.\n" +
	"- If an operation may take more than 6 seconds or has side effects, ask for confirmation before running it.\n" +
	"- Prefer short progress updates instead of long step-by-step narration."

const personaTruncated = "\n\n[PERSONA TRUNCATED]"

var personaFiles = []struct {
	file  string
	label string
}{
	{"SOUL.md", "SOUL"},
	{"IDENTITY.md", "IDENTITY"},
	{"USER.md", "USER"},
}

// Prompts builds the developer messages prepended to every completion.
type Prompts struct {
	// Workspace holds SOUL.md, IDENTITY.md and USER.md.
	Workspace string

	// PersonaEnabled toggles the shared persona message.
	PersonaEnabled bool

	// MaxChars caps the persona message length, in characters.
	MaxChars int
}

// Persona assembles the shared persona from the workspace files. Missing
// files are skipped; an empty string means there is nothing to inject.
func (p *Prompts) Persona() string {
	if p == nil || !p.PersonaEnabled || p.Workspace == "" {
		return ""
	}

	var sections []string
	for _, f := range personaFiles {
		data, err := os.ReadFile(filepath.Join(p.Workspace, f.file))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		sections = append(sections, "["+f.label+"] ("+f.file+")\n"+content)
	}
	if len(sections) == 0 {
		return ""
	}

	prompt := "Use this as the canonical personality and relationship context.\n" +
		"Prioritize these sections in order, while staying concise for voice.\n\n" +
		strings.Join(sections, "\n\n")

	if p.MaxChars > 0 {
		runes := []rune(prompt)
		if len(runes) > p.MaxChars {
			prompt = strings.TrimRight(string(runes[:p.MaxChars]), " \t\r\n") + personaTruncated
		}
	}
	return prompt
}

// Prefix returns the stable part of the injected messages: the persona and
// the voice overlay. Keeping it identical across requests lets the gateway
// reuse its prompt cache.
func (p *Prompts) Prefix() []Message {
	var msgs []Message
	if persona := p.Persona(); persona != "" {
		msgs = append(msgs, Message{Role: "developer", Content: persona})
	}
	return append(msgs, Message{Role: "developer", Content: voiceOverlay})
}

// Messages returns the full injected prefix for a request made at now.
func (p *Prompts) Messages(now time.Time) []Message {
	return append(p.Prefix(), Message{
		Role:    "developer",
		Content: "Current UTC time: " + now.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
