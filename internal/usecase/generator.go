package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"salesdesk-agent/internal/domain"
)

// LLMClient is the chat-completions boundary consumed by the generator.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// defaultGenerationBudget must stay strictly below the transport client's own
// timeout so the race below, not the HTTP stack, decides when to give up.
const defaultGenerationBudget = 8 * time.Second

// ReplyGenerator turns a sender's latest text plus conversation state into a
// schema-valid GeneratedReply, or reports that none is available.
type ReplyGenerator struct {
	llm    LLMClient
	budget time.Duration
}

func NewReplyGenerator(llm LLMClient, budget time.Duration) (*ReplyGenerator, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if budget <= 0 {
		budget = defaultGenerationBudget
	}
	return &ReplyGenerator{llm: llm, budget: budget}, nil
}

type chatResult struct {
	raw string
	err error
}

// Generate makes exactly one attempt, racing the call against the budget.
// Every failure cause (transport error, timeout, malformed or schema-invalid
// output) collapses to ok=false; callers only learn presence or absence. The
// cause is logged here, out of band.
func (g *ReplyGenerator) Generate(ctx context.Context, text string, st domain.ConversationState, systemPrompt, model string, now time.Time) (domain.GeneratedReply, bool) {
	callCtx, cancel := context.WithTimeout(ctx, g.budget)
	defer cancel()

	messages := buildReplyMessages(systemPrompt, text, st, now)

	// The channel is buffered so a completion that loses the race is
	// discarded instead of blocking the goroutine forever.
	results := make(chan chatResult, 1)
	go func() {
		raw, err := g.llm.Chat(callCtx, model, messages)
		results <- chatResult{raw: raw, err: err}
	}()

	var raw string
	select {
	case <-callCtx.Done():
		slog.Warn("generation abandoned at timeout budget", "budget", g.budget.String())
		return domain.GeneratedReply{}, false
	case res := <-results:
		if res.err != nil {
			slog.Warn("generation call failed", "err", res.err)
			return domain.GeneratedReply{}, false
		}
		raw = res.raw
	}

	reply, err := parseGeneratedReply(raw)
	if err != nil {
		slog.Warn("generation output rejected", "err", err)
		return domain.GeneratedReply{}, false
	}
	return reply, true
}

// parseGeneratedReply decodes the raw model output against the strict reply
// schema. If the direct decode fails it makes exactly one repair attempt on
// the outermost brace-delimited substring, then gives up.
func parseGeneratedReply(raw string) (domain.GeneratedReply, error) {
	reply, err := decodeStrictReply(strings.TrimSpace(raw))
	if err == nil {
		return reply, nil
	}

	repaired, ok := extractJSONObject(raw)
	if !ok {
		return domain.GeneratedReply{}, fmt.Errorf("usecase: decode generated reply: %w", err)
	}
	reply, repairErr := decodeStrictReply(repaired)
	if repairErr != nil {
		return domain.GeneratedReply{}, fmt.Errorf("usecase: repair decode generated reply: %w", repairErr)
	}
	return reply, nil
}

// requiredReplyKeys are the mandatory members of the reply schema. A payload
// omitting any of them is rejected even where the zero value would be usable.
var requiredReplyKeys = []string{"reply", "intent", "fields_collected", "fields_missing", "notes_for_human"}

func decodeStrictReply(raw string) (domain.GeneratedReply, error) {
	var out domain.GeneratedReply
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return domain.GeneratedReply{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.GeneratedReply{}, errors.New("multiple JSON values")
		}
		return domain.GeneratedReply{}, fmt.Errorf("trailing data: %w", err)
	}
	// DisallowUnknownFields rejects extras only; absent members decode to
	// zero values, so presence has to be checked against the raw object.
	var members map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return domain.GeneratedReply{}, err
	}
	for _, key := range requiredReplyKeys {
		if _, ok := members[key]; !ok {
			return domain.GeneratedReply{}, fmt.Errorf("missing required field %q", key)
		}
	}
	if strings.TrimSpace(out.Reply) == "" {
		return domain.GeneratedReply{}, errors.New("reply must not be empty")
	}
	if strings.TrimSpace(out.Intent) == "" {
		return domain.GeneratedReply{}, errors.New("intent must not be empty")
	}
	return out, nil
}

// extractJSONObject returns the widest brace-delimited span in text, from the
// first opening brace to the last closing brace.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
