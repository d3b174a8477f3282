package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// sendRequest is the Cloud API text-message payload.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// sendResponse is the minimal acknowledgement shape returned on success.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// tokenPayload is the expected JSON shape stored in SSM for the access token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text messages through a WhatsApp-Cloud-style messages
// endpoint. Sends are single attempts; the caller decides what a failure
// means, and nothing here retries.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	credOnce sync.Once
	token    string
	phoneID  string
	credErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client backed by the given paramstore.Getter. The
// access token and sender phone id are fetched from SSM on the first Send
// and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("whatsapp: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("whatsapp: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://graph.facebook.com/v19.0",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveCredentials(ctx context.Context) (token, phoneID string, err error) {
	c.credOnce.Do(func() {
		c.token, c.phoneID, c.credErr = fetchCredentials(ctx, c.getter, c.paramPrefix)
	})
	return c.token, c.phoneID, c.credErr
}

func fetchCredentials(ctx context.Context, getter Getter, prefix string) (string, string, error) {
	raw, err := getter.GetParameter(ctx, prefix+"/whatsapp-token")
	if err != nil {
		return "", "", fmt.Errorf("whatsapp: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", "", fmt.Errorf("whatsapp: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", "", errors.New("whatsapp: access token is empty")
	}

	phoneID, err := getter.GetParameter(ctx, prefix+"/whatsapp-phone-id")
	if err != nil {
		return "", "", fmt.Errorf("whatsapp: fetch phone id from paramstore: %w", err)
	}
	phoneID = strings.TrimSpace(phoneID)
	if phoneID == "" {
		return "", "", errors.New("whatsapp: phone id is empty")
	}
	return tp.Token, phoneID, nil
}

func sendURL(baseURL, phoneID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com/v19.0"
	}
	return base + "/" + phoneID + "/messages"
}

// Send delivers one text message to recipient.
func (c *Client) Send(ctx context.Context, recipient, body string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return errors.New("whatsapp: recipient must not be empty")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("whatsapp: body must not be empty")
	}

	token, phoneID, err := c.resolveCredentials(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := sendURL(c.baseURL, phoneID)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if reqErr != nil {
		return fmt.Errorf("whatsapp: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return fmt.Errorf("whatsapp: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var ack sendResponse
	if decErr := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&ack); decErr != nil {
		return fmt.Errorf("whatsapp: decode response: %w", decErr)
	}
	if len(ack.Messages) == 0 {
		return errors.New("whatsapp: no message id in response")
	}
	return nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
