package domain

import "time"

// Fact keys collected over a conversation. The set is closed: merge drops
// anything outside it, so a confabulated key from the model never reaches
// state or escalation records.
const (
	FactProductCategory = "product_category"
	FactSize            = "size"
	FactQuantity        = "quantity"
	FactUrgency         = "urgency"
	FactCompliance      = "compliance_requirements"
	FactDeliveryCity    = "delivery_city"
	FactBudget          = "budget"
)

var knownFactKeys = map[string]struct{}{
	FactProductCategory: {},
	FactSize:            {},
	FactQuantity:        {},
	FactUrgency:         {},
	FactCompliance:      {},
	FactDeliveryCity:    {},
	FactBudget:          {},
}

// KnownFactKey reports whether key belongs to the enumerated fact set.
func KnownFactKey(key string) bool {
	_, ok := knownFactKeys[key]
	return ok
}

// ConversationState is the per-sender record of collected facts plus the
// outcome of the most recent generation. All fields are optional; an empty
// value is a valid state for a sender we have never replied to.
type ConversationState struct {
	Facts      map[string]string `json:"facts,omitempty"`
	LastIntent string            `json:"last_intent,omitempty"`
	LastReply  string            `json:"last_reply,omitempty"`
	UpdatedAt  time.Time         `json:"last_update,omitempty"`
}
