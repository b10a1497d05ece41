package github

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("info", "")
	os.Exit(m.Run())
}

const webhookSecret = "hook-secret"

func postWebhook(t *testing.T, h *WebhookHandler, eventType, deliveryID string, body []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	if signed {
		req.Header.Set("X-Hub-Signature-256", sign([]byte(webhookSecret), body))
	}
	if eventType != "" {
		req.Header.Set("X-GitHub-Event", eventType)
	}
	if deliveryID != "" {
		req.Header.Set("X-GitHub-Delivery", deliveryID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptsValidEvent(t *testing.T) {
	eventsCh := make(chan *NormalizedEvent, 1)
	h := NewWebhookHandler(webhookSecret, eventsCh)

	rec := postWebhook(t, h, "pull_request", "delivery-1", []byte(prOpenedBody), true)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-eventsCh:
		assert.Equal(t, storage.KindPullRequest, ev.Kind)
		assert.Equal(t, "delivery-1", ev.DedupHash)
	default:
		t.Fatal("expected event on channel")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	eventsCh := make(chan *NormalizedEvent, 1)
	h := NewWebhookHandler(webhookSecret, eventsCh)

	rec := postWebhook(t, h, "pull_request", "delivery-1", []byte(prOpenedBody), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, eventsCh)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	eventsCh := make(chan *NormalizedEvent, 1)
	h := NewWebhookHandler(webhookSecret, eventsCh)

	// Valid signature, push event type, but no repository field. Rejected
	// before any subscription lookup would happen.
	body := []byte(`{"ref": "refs/heads/main"}`)
	rec := postWebhook(t, h, "push", "", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, eventsCh)
}

func TestWebhookDropsUnknownKind(t *testing.T) {
	eventsCh := make(chan *NormalizedEvent, 1)
	h := NewWebhookHandler(webhookSecret, eventsCh)

	rec := postWebhook(t, h, "totally_made_up", "", []byte(`{}`), true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, eventsCh)
}

func TestWebhookRequiresPost(t *testing.T) {
	h := NewWebhookHandler(webhookSecret, make(chan *NormalizedEvent, 1))

	req := httptest.NewRequest(http.MethodGet, "/webhook/github", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookEnqueuesUnhandledKind(t *testing.T) {
	eventsCh := make(chan *NormalizedEvent, 1)
	h := NewWebhookHandler(webhookSecret, eventsCh)

	body := []byte(`{"repository": {"name": "widgets", "owner": {"login": "acme"}}}`)
	rec := postWebhook(t, h, "star", "delivery-2", body, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-eventsCh:
		assert.Equal(t, storage.KindUnhandled, ev.Kind)
	default:
		t.Fatal("expected unhandled event on channel")
	}
}
