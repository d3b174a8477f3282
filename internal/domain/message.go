package domain

import (
	"strings"
	"time"
)

// KindText is the only message kind the pipeline acts on. Everything else
// (media, reactions, location shares) is dropped after the guard checks.
const KindText = "text"

// InboundMessage is one parsed unit of work from a webhook delivery. It lives
// only for the duration of a single orchestration pass.
type InboundMessage struct {
	ID        string
	Sender    string
	Kind      string
	Text      string
	Timestamp time.Time
}

// ChatMessage is the provider-agnostic chat message shape used by prompt
// assembly and the LLM integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MaskSender redacts a sender identifier down to its last four characters,
// for log fields and escalation records.
func MaskSender(sender string) string {
	// Rune-based so a multibyte identifier is never split mid-character.
	runes := []rune(strings.TrimSpace(sender))
	const keep = 4
	if len(runes) <= keep {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-keep) + string(runes[len(runes)-keep:])
}
