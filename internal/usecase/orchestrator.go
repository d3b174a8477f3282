package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"salesdesk-agent/internal/domain"
	"salesdesk-agent/internal/guard"
	"salesdesk-agent/internal/state"
)

// IntentHandoff is the reserved intent value signaling that the conversation
// must be routed to a human. Compared case-insensitively.
const IntentHandoff = "handoff"

const (
	// fallbackReply is sent whenever no usable generated reply is available.
	fallbackReply = "Sorry, I didn't quite catch that. Could you tell me what you need the product for and which size or quantity you have in mind?"
	// handoffReply acknowledges an escalation to the customer.
	handoffReply = "Thanks for the details! I'm handing this over to a colleague who will get back to you shortly."
)

// ParamGetter is the parameter-store boundary for prompt and model config.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Generator produces a schema-valid reply for one message, or reports that
// none is available. Exactly one attempt per message, no retry.
type Generator interface {
	Generate(ctx context.Context, text string, st domain.ConversationState, systemPrompt, model string, now time.Time) (domain.GeneratedReply, bool)
}

// MessageSender is the outbound transport boundary. Failures are surfaced,
// never retried.
type MessageSender interface {
	Send(ctx context.Context, recipient, body string) error
}

// EscalationRecorder receives handoff records for the human/CRM workflow.
type EscalationRecorder interface {
	Record(ctx context.Context, rec domain.EscalationRecord) error
}

// Checker is the dedup/rate guard boundary.
type Checker interface {
	Check(messageID, senderID string, now time.Time) guard.Decision
	Sweep(now time.Time) int
}

// BatchResult summarizes one webhook delivery by disposition.
type BatchResult struct {
	Received         int `json:"received"`
	Replied          int `json:"replied"`
	Escalated        int `json:"escalated"`
	Fallbacks        int `json:"fallbacks"`
	Duplicates       int `json:"duplicates"`
	RateLimited      int `json:"rate_limited"`
	Skipped          int `json:"skipped"`
	DispatchFailures int `json:"dispatch_failures"`
}

// Orchestrator runs the per-message pipeline: guard checks, kind filter,
// state load, generation, state merge and intent-based dispatch.
type Orchestrator struct {
	params      ParamGetter
	guard       Checker
	state       state.Store
	gen         Generator
	sender      MessageSender
	escalations EscalationRecorder
	paramPrefix string

	cfgMu        sync.RWMutex
	cfgLoaded    bool
	systemPrompt string
	model        string
}

func NewOrchestrator(p ParamGetter, g Checker, st state.Store, gen Generator, sender MessageSender, esc EscalationRecorder, paramPrefix string) (*Orchestrator, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: guard must not be nil")
	}
	if st == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if esc == nil {
		return nil, errors.New("usecase: escalation recorder must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &Orchestrator{
		params:      p,
		guard:       g,
		state:       st,
		gen:         gen,
		sender:      sender,
		escalations: esc,
		paramPrefix: paramPrefix,
	}, nil
}

// ProcessBatch runs each message of one webhook delivery through the pipeline
// in order. Messages are isolated from each other: a dispatch failure is
// counted and logged, then processing moves on. The returned error is non-nil
// only when the batch could not start at all.
func (o *Orchestrator) ProcessBatch(ctx context.Context, msgs []domain.InboundMessage) (BatchResult, error) {
	now := timeNow().UTC()
	if n := o.guard.Sweep(now); n > 0 {
		slog.Debug("expired dedup entries removed", "count", n)
	}
	if err := o.ensureConfig(ctx); err != nil {
		return BatchResult{}, newError(ErrorConfigUnavailable, "prompt_config_load", err)
	}

	res := BatchResult{Received: len(msgs)}
	for _, msg := range msgs {
		o.processMessage(ctx, msg, now, &res)
	}
	return res, nil
}

func (o *Orchestrator) processMessage(ctx context.Context, msg domain.InboundMessage, now time.Time, res *BatchResult) {
	switch o.guard.Check(msg.ID, msg.Sender, now) {
	case guard.DecisionDuplicate:
		slog.Debug("duplicate message dropped", "message_id", msg.ID)
		res.Duplicates++
		return
	case guard.DecisionRateLimited:
		slog.Warn("sender rate limited", "sender", domain.MaskSender(msg.Sender), "message_id", msg.ID)
		res.RateLimited++
		return
	}

	if msg.Kind != domain.KindText || strings.TrimSpace(msg.Text) == "" {
		slog.Info("unsupported message kind skipped", "kind", msg.Kind, "message_id", msg.ID)
		res.Skipped++
		return
	}

	st := o.state.Get(msg.Sender)
	systemPrompt, model := o.configured()
	reply, ok := o.gen.Generate(ctx, msg.Text, st, systemPrompt, model, now)
	if !ok {
		// No facts were collected, so state stays untouched in this branch.
		res.Fallbacks++
		o.dispatch(ctx, msg, fallbackReply, res)
		return
	}

	merged := o.state.Merge(msg.Sender, reply.FieldsCollected, reply.Intent, reply.Reply, now)

	if strings.EqualFold(reply.Intent, IntentHandoff) {
		o.recordEscalation(ctx, msg, reply, merged, now)
		res.Escalated++
		o.dispatch(ctx, msg, handoffReply, res)
		return
	}

	res.Replied++
	o.dispatch(ctx, msg, reply.Reply, res)
}

func (o *Orchestrator) dispatch(ctx context.Context, msg domain.InboundMessage, body string, res *BatchResult) {
	if err := o.sender.Send(ctx, msg.Sender, body); err != nil {
		dispatchErr := newError(ErrorDispatchFailure, "outbound_send", err)
		slog.Warn("outbound dispatch failed",
			"sender", domain.MaskSender(msg.Sender),
			"message_id", msg.ID,
			"err", dispatchErr,
		)
		res.DispatchFailures++
	}
}

func (o *Orchestrator) recordEscalation(ctx context.Context, msg domain.InboundMessage, reply domain.GeneratedReply, merged domain.ConversationState, now time.Time) {
	rec := domain.EscalationRecord{
		MaskedSender: domain.MaskSender(msg.Sender),
		Notes:        reply.NotesForHuman,
		TriggerText:  msg.Text,
		State:        merged,
		CreatedAt:    now,
	}
	// Fire and forget: a failed write must not fail the message.
	if err := o.escalations.Record(ctx, rec); err != nil {
		slog.Error("escalation record write failed", "sender", rec.MaskedSender, "err", err)
	}
}

// ensureConfig loads the system prompt and model name from the parameter
// store on the first batch and reuses them for the process lifetime.
func (o *Orchestrator) ensureConfig(ctx context.Context) error {
	o.cfgMu.RLock()
	if o.cfgLoaded {
		o.cfgMu.RUnlock()
		return nil
	}
	o.cfgMu.RUnlock()

	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	if o.cfgLoaded {
		return nil
	}

	systemPrompt, err := o.params.GetParameter(ctx, o.paramPrefix+"/system_prompt")
	if err != nil {
		return err
	}
	model, err := o.params.GetParameter(ctx, o.paramPrefix+"/config/openai_model")
	if err != nil {
		return err
	}

	o.systemPrompt = systemPrompt
	o.model = model
	o.cfgLoaded = true
	return nil
}

func (o *Orchestrator) configured() (string, string) {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.systemPrompt, o.model
}

// FallbackReply and HandoffReply expose the canned texts for the handler's
// tests and operator documentation.
func FallbackReply() string { return fallbackReply }
func HandoffReply() string  { return handoffReply }

var timeNow = time.Now
