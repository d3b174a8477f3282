package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"salesdesk-agent/internal/domain"
)

func buildReplyMessages(systemPrompt, text string, st domain.ConversationState, now time.Time) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: strings.TrimSpace(systemPrompt)},
		{Role: "system", Content: buildStateContext(st, now)},
		{Role: "user", Content: text},
	}
}

func buildStateContext(st domain.ConversationState, now time.Time) string {
	snapshot, err := json.Marshal(st)
	if err != nil {
		snapshot = []byte("{}")
	}
	return fmt.Sprintf(
		"Known customer facts so far:\n%s\n\nGenerated at: %s\n\n%s",
		snapshot,
		now.UTC().Format(time.RFC3339),
		outputContract(),
	)
}

func outputContract() string {
	return strings.Join([]string{
		"Output Contract:",
		"Return JSON only with keys reply (string), intent (string),",
		"fields_collected (object mapping fact keys to string values),",
		"fields_missing (array of fact keys still unknown) and",
		"notes_for_human (string with context for a human colleague).",
		"reply and intent must never be empty.",
		"Set intent to \"handoff\" only when a human must take over.",
	}, "\n")
}
