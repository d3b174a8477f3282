package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"salesdesk-agent/internal/domain"
)

type fakeLLM struct {
	raw       string
	err       error
	delay     time.Duration
	callCount int
	gotModel  string
	gotMsgs   []domain.ChatMessage
}

func (f *fakeLLM) Chat(ctx context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	f.callCount++
	f.gotModel = model
	f.gotMsgs = msgs
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.raw, f.err
}

func validReplyJSON() string {
	return `{"reply":"Which size do you need?","intent":"collect_info",` +
		`"fields_collected":{"product_category":"safety gloves"},` +
		`"fields_missing":["size","quantity"],"notes_for_human":""}`
}

func newTestGenerator(t *testing.T, llm LLMClient, budget time.Duration) *ReplyGenerator {
	t.Helper()
	g, err := NewReplyGenerator(llm, budget)
	require.NoError(t, err)
	return g
}

func TestNewReplyGenerator_NilClient(t *testing.T) {
	_, err := NewReplyGenerator(nil, time.Second)
	require.Error(t, err)
}

func TestGenerate_HappyPath(t *testing.T) {
	llm := &fakeLLM{raw: validReplyJSON()}
	g := newTestGenerator(t, llm, time.Second)

	reply, ok := g.Generate(context.Background(), "I need gloves", domain.ConversationState{}, "You are a sales assistant.", "gpt-4o-mini", time.Now())
	require.True(t, ok)
	require.Equal(t, "Which size do you need?", reply.Reply)
	require.Equal(t, "collect_info", reply.Intent)
	require.Equal(t, "safety gloves", reply.FieldsCollected["product_category"])
	require.Equal(t, []string{"size", "quantity"}, reply.FieldsMissing)
	require.Equal(t, "gpt-4o-mini", llm.gotModel)
}

func TestGenerate_PromptEmbedsStateAndText(t *testing.T) {
	llm := &fakeLLM{raw: validReplyJSON()}
	g := newTestGenerator(t, llm, time.Second)

	st := domain.ConversationState{Facts: map[string]string{domain.FactSize: "L"}}
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	_, ok := g.Generate(context.Background(), "200 pairs please", st, "system prompt here", "gpt-4o-mini", now)
	require.True(t, ok)

	require.Len(t, llm.gotMsgs, 3)
	require.Equal(t, "system", llm.gotMsgs[0].Role)
	require.Equal(t, "system prompt here", llm.gotMsgs[0].Content)
	require.Contains(t, llm.gotMsgs[1].Content, `"size":"L"`)
	require.Contains(t, llm.gotMsgs[1].Content, "2025-03-04T12:00:00Z")
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "200 pairs please"}, llm.gotMsgs[2])
}

func TestGenerate_TransportErrorIsAbsent(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{err: errors.New("connection refused")}, time.Second)
	_, ok := g.Generate(context.Background(), "hi", domain.ConversationState{}, "sys", "m", time.Now())
	require.False(t, ok)
}

func TestGenerate_TimeoutIsAbsent(t *testing.T) {
	llm := &fakeLLM{raw: validReplyJSON(), delay: 300 * time.Millisecond}
	g := newTestGenerator(t, llm, 20*time.Millisecond)

	start := time.Now()
	_, ok := g.Generate(context.Background(), "hi", domain.ConversationState{}, "sys", "m", time.Now())
	require.False(t, ok)
	require.Less(t, time.Since(start), 200*time.Millisecond, "the budget, not the call, must decide")
}

func TestGenerate_MalformedOutputIsAbsent(t *testing.T) {
	g := newTestGenerator(t, &fakeLLM{raw: "sorry, I cannot answer in JSON today"}, time.Second)
	_, ok := g.Generate(context.Background(), "hi", domain.ConversationState{}, "sys", "m", time.Now())
	require.False(t, ok)
}

func TestGenerate_RepairRecoversEmbeddedObject(t *testing.T) {
	raw := "Sure! Here is the result:\n" + validReplyJSON() + "\nHope that helps."
	g := newTestGenerator(t, &fakeLLM{raw: raw}, time.Second)

	reply, ok := g.Generate(context.Background(), "hi", domain.ConversationState{}, "sys", "m", time.Now())
	require.True(t, ok)
	require.Equal(t, "collect_info", reply.Intent)
}

func TestParseGeneratedReply(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"direct", validReplyJSON(), false},
		{"surrounded by prose", "prefix " + validReplyJSON() + " suffix", false},
		{"code fence", "```json\n" + validReplyJSON() + "\n```", false},
		{"no json object", "plain refusal text", true},
		{"empty reply", `{"reply":"","intent":"x","fields_collected":{},"fields_missing":[],"notes_for_human":""}`, true},
		{"empty intent", `{"reply":"x","intent":"","fields_collected":{},"fields_missing":[],"notes_for_human":""}`, true},
		{"unknown field", `{"reply":"x","intent":"y","fields_collected":{},"fields_missing":[],"notes_for_human":"","extra":1}`, true},
		{"missing fields_collected", `{"reply":"x","intent":"y","fields_missing":[],"notes_for_human":""}`, true},
		{"missing fields_missing", `{"reply":"x","intent":"y","fields_collected":{},"notes_for_human":""}`, true},
		{"missing notes_for_human", `{"reply":"x","intent":"y","fields_collected":{},"fields_missing":[]}`, true},
		{"null members still present", `{"reply":"x","intent":"y","fields_collected":null,"fields_missing":null,"notes_for_human":""}`, false},
		{"truncated", `{"reply":"x","intent":"y"`, true},
	}
	for _, tc := range cases {
		_, err := parseGeneratedReply(tc.raw)
		if tc.wantErr {
			require.Error(t, err, tc.name)
		} else {
			require.NoError(t, err, tc.name)
		}
	}
}

func TestParseGeneratedReply_RepairIsOneShot(t *testing.T) {
	// The outermost span is broken and no second, narrower extraction is
	// attempted even though a valid object is embedded deeper.
	raw := fmt.Sprintf("{ broken %s", validReplyJSON())
	_, err := parseGeneratedReply(raw)
	require.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`before {"a":1} after`, `{"a":1}`, true},
		{`{"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{`x { first } mid { second } y`, `{ first } mid { second }`, true},
		{"no braces at all", "", false},
		{"} reversed {", "", false},
	}
	for _, tc := range cases {
		got, ok := extractJSONObject(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestGenerate_MissingRequiredFieldIsAbsent(t *testing.T) {
	// All five members are mandatory; a payload carrying only reply and
	// intent must fail validation, not slip through as a usable reply.
	raw := `{"reply":"Hello!","intent":"greeting"}`
	g := newTestGenerator(t, &fakeLLM{raw: raw}, time.Second)
	_, ok := g.Generate(context.Background(), "hi", domain.ConversationState{}, "sys", "m", time.Now())
	require.False(t, ok)
}

func TestGenerate_ExactlyOneAttempt(t *testing.T) {
	llm := &fakeLLM{raw: "not json"}
	g := newTestGenerator(t, llm, time.Second)
	_, ok := g.Generate(context.Background(), "hi", domain.ConversationState{}, "sys", "m", time.Now())
	require.False(t, ok)
	require.Equal(t, 1, llm.callCount)
	require.False(t, strings.Contains(llm.raw, "{"))
}
