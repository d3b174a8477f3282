package domain

import "time"

// GeneratedReply is the schema-valid output of the reply generator. Reply and
// Intent are guaranteed non-empty after validation; the remaining fields may
// be empty when the model had nothing to report.
type GeneratedReply struct {
	Reply           string            `json:"reply"`
	Intent          string            `json:"intent"`
	FieldsCollected map[string]string `json:"fields_collected"`
	FieldsMissing   []string          `json:"fields_missing"`
	NotesForHuman   string            `json:"notes_for_human"`
}

// EscalationRecord is the handoff payload emitted when the generator signals
// the reserved escalation intent. It is fire-and-forget: the human/CRM side
// never acknowledges it back into the pipeline.
type EscalationRecord struct {
	ID           string
	MaskedSender string
	Notes        string
	TriggerText  string
	State        ConversationState
	CreatedAt    time.Time
}
