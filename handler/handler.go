package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"salesdesk-agent/internal/domain"
	"salesdesk-agent/internal/usecase"
)

// Batcher is the orchestration boundary consumed by the webhook handler.
type Batcher interface {
	ProcessBatch(ctx context.Context, msgs []domain.InboundMessage) (usecase.BatchResult, error)
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// webhookEvent mirrors the WhatsApp Cloud API delivery shape, reduced to the
// fields the pipeline consumes. One delivery may span several entries and
// conversation threads.
type webhookEvent struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Handler adapts API Gateway proxy events to orchestration batches.
type Handler struct {
	uc          Batcher
	verifyToken string
}

func NewHandler(uc Batcher, verifyToken string) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if strings.TrimSpace(verifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	return &Handler{uc: uc, verifyToken: verifyToken}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (Response, error) {
	switch req.HTTPMethod {
	case http.MethodGet:
		return h.handleVerification(req), nil
	case http.MethodPost:
		return h.handleDelivery(ctx, req), nil
	default:
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed"), nil
	}
}

// handleVerification answers the provider's subscription handshake by
// echoing the challenge when the verify token matches.
func (h *Handler) handleVerification(req events.APIGatewayProxyRequest) Response {
	q := req.QueryStringParameters
	if q["hub.mode"] != "subscribe" || q["hub.verify_token"] != h.verifyToken {
		return errorResponse(http.StatusForbidden, "verification_failed")
	}
	return Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"content-type": "text/plain"},
		Body:       q["hub.challenge"],
	}
}

// handleDelivery decodes a webhook delivery and runs the batch. Well-formed
// deliveries are always acked with 200 — the provider redelivers non-2xx
// responses and the dedup guard would drop the repeats anyway.
func (h *Handler) handleDelivery(ctx context.Context, req events.APIGatewayProxyRequest) Response {
	var evt webhookEvent
	if err := json.Unmarshal([]byte(req.Body), &evt); err != nil {
		slog.Warn("undecodable webhook delivery rejected", "err", err)
		return errorResponse(http.StatusBadRequest, "invalid_payload")
	}

	msgs := flattenMessages(evt)
	result, err := h.uc.ProcessBatch(ctx, msgs)
	if err != nil {
		slog.Error("batch could not start", "err", err)
		return errorResponse(http.StatusBadGateway, "batch_failed")
	}
	if result.DispatchFailures > 0 {
		slog.Warn("batch completed with dispatch failures", "failures", result.DispatchFailures)
	}
	return jsonResponse(http.StatusOK, result)
}

// flattenMessages collapses the nested delivery into one ordered batch.
func flattenMessages(evt webhookEvent) []domain.InboundMessage {
	var msgs []domain.InboundMessage
	for _, entry := range evt.Entry {
		for _, change := range entry.Changes {
			for _, wm := range change.Value.Messages {
				msgs = append(msgs, toInbound(wm))
			}
		}
	}
	return msgs
}

func toInbound(wm webhookMessage) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        wm.ID,
		Sender:    wm.From,
		Kind:      wm.Type,
		Timestamp: parseTimestamp(wm.Timestamp),
	}
	if wm.Text != nil {
		msg.Text = wm.Text.Body
	}
	return msg
}

// parseTimestamp decodes the provider's unix-seconds string; an unparsable
// value falls back to the arrival time.
func parseTimestamp(raw string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

func jsonResponse(status int, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "encode_failed")
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(body),
	}
}

func errorResponse(status int, reason string) Response {
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       `{"error":"` + reason + `"}`,
	}
}
