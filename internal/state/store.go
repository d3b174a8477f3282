package state

import (
	"sync"
	"time"

	"salesdesk-agent/internal/domain"
)

// Store is the conversation-state boundary consumed by the orchestrator.
// Get never fails; an unknown sender reads as an empty record. The interface
// is shaped so a durable or shared implementation could replace MemoryStore
// without touching any caller.
type Store interface {
	Get(senderID string) domain.ConversationState
	Merge(senderID string, facts map[string]string, intent, reply string, now time.Time) domain.ConversationState
}

// MemoryStore keeps conversation state in a process-lifetime map. Records are
// created lazily on first read and never deleted. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.ConversationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.ConversationState)}
}

func (s *MemoryStore) Get(senderID string) domain.ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.records[senderID])
}

// Merge shallow-overwrites matching fact keys, preserves absent ones and
// refreshes the update timestamp. Keys outside the enumerated fact set are
// dropped. The returned record is the full post-merge state.
func (s *MemoryStore) Merge(senderID string, facts map[string]string, intent, reply string, now time.Time) domain.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[senderID]
	if rec.Facts == nil {
		rec.Facts = make(map[string]string, len(facts))
	}
	for k, v := range facts {
		if !domain.KnownFactKey(k) {
			continue
		}
		rec.Facts[k] = v
	}
	if intent != "" {
		rec.LastIntent = intent
	}
	if reply != "" {
		rec.LastReply = reply
	}
	rec.UpdatedAt = now
	s.records[senderID] = rec
	return cloneState(rec)
}

// cloneState copies the fact map so callers never share mutable state with
// the store.
func cloneState(rec domain.ConversationState) domain.ConversationState {
	if rec.Facts == nil {
		return rec
	}
	facts := make(map[string]string, len(rec.Facts))
	for k, v := range rec.Facts {
		facts[k] = v
	}
	rec.Facts = facts
	return rec
}
