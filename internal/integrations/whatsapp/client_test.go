package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	vals   map[string]string
	err    error
	onCall func(name string)
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	if f.onCall != nil {
		f.onCall(name)
	}
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.vals[name]
	if !ok {
		return "", errors.New("param not found: " + name)
	}
	return v, nil
}

func defaultGetter() *fakeGetter {
	return &fakeGetter{vals: map[string]string{
		"/salesdesk/whatsapp-token":    `{"token":"wa-access-token"}`,
		"/salesdesk/whatsapp-phone-id": "123456789",
	}}
}

// ---------------------------------------------------------------------------
// sendURL helper
// ---------------------------------------------------------------------------

func TestSendURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://graph.facebook.com/v19.0", "https://graph.facebook.com/v19.0/123/messages"},
		{"https://graph.facebook.com/v19.0/", "https://graph.facebook.com/v19.0/123/messages"},
		{"", "https://graph.facebook.com/v19.0/123/messages"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, sendURL(tc.base, "123"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/salesdesk")
	require.Error(t, err)
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(defaultGetter(), "")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_HappyPath(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/salesdesk", WithBaseURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "4915550001", "Which size do you need?"))

	require.Equal(t, "/123456789/messages", gotPath)
	require.Equal(t, "Bearer wa-access-token", gotAuth)
	require.Equal(t, "whatsapp", gotReq.MessagingProduct)
	require.Equal(t, "4915550001", gotReq.To)
	require.Equal(t, "text", gotReq.Type)
	require.Equal(t, "Which size do you need?", gotReq.Text.Body)
}

func TestSend_ValidatesInput(t *testing.T) {
	c, err := NewClient(defaultGetter(), "/salesdesk")
	require.NoError(t, err)

	require.Error(t, c.Send(context.Background(), "", "body"))
	require.Error(t, c.Send(context.Background(), "4915550001", "  "))
}

func TestSend_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid recipient"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/salesdesk", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.Send(context.Background(), "4915550001", "hi")
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "invalid recipient")
}

func TestSend_NoMessageIDInAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/salesdesk", WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = c.Send(context.Background(), "4915550001", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no message id")
}

func TestSend_CredentialsResolvedOnce(t *testing.T) {
	calls := 0
	g := defaultGetter()
	g.onCall = func(string) { calls++ }

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(g, "/salesdesk", WithBaseURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "4915550001", "one"))
	require.NoError(t, c.Send(context.Background(), "4915550001", "two"))
	require.Equal(t, 2, calls, "token and phone id are fetched once per process")
}

func TestFetchCredentials_MissingToken(t *testing.T) {
	g := &fakeGetter{vals: map[string]string{
		"/salesdesk/whatsapp-token":    `{"other":"x"}`,
		"/salesdesk/whatsapp-phone-id": "123",
	}}
	_, _, err := fetchCredentials(context.Background(), g, "/salesdesk")
	require.Error(t, err)
	require.Contains(t, err.Error(), "token is empty")
}

func TestFetchCredentials_MissingPhoneID(t *testing.T) {
	g := &fakeGetter{vals: map[string]string{
		"/salesdesk/whatsapp-token":    `{"token":"x"}`,
		"/salesdesk/whatsapp-phone-id": "  ",
	}}
	_, _, err := fetchCredentials(context.Background(), g, "/salesdesk")
	require.Error(t, err)
	require.Contains(t, err.Error(), "phone id is empty")
}
