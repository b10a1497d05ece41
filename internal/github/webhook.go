package github

import (
	"errors"
	"io"
	"net/http"

	"github.com/user/githubrelay/pkg/logger"
)

// maxBodyBytes caps webhook bodies; GitHub itself limits payloads to 25 MB.
const maxBodyBytes = 25 << 20

// WebhookHandler ingests GitHub webhook deliveries: it verifies the
// signature over the raw body, normalizes the payload and hands the event to
// the dispatch channel. Processing is asynchronous from the caller's
// perspective; a 200 means the event was accepted, not delivered.
type WebhookHandler struct {
	secret   []byte
	eventsCh chan<- *NormalizedEvent
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(secret string, eventsCh chan<- *NormalizedEvent) *WebhookHandler {
	return &WebhookHandler{
		secret:   []byte(secret),
		eventsCh: eventsCh,
	}
}

// ServeHTTP handles incoming webhook requests.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Signature verification needs the exact raw bytes, so the body is read
	// before any parsing.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), h.secret) {
		logger.Warn().Str("remote", r.RemoteAddr).Msg("Invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	event, err := Normalize(eventType, deliveryID, body)
	if err != nil {
		var nerr *NormalizationError
		if errors.As(err, &nerr) && nerr.Reason == ReasonUnknownKind {
			// Not an error on the caller's side; drop and acknowledge.
			logger.Debug().Str("event_type", eventType).Msg("Dropping unknown event kind")
			w.WriteHeader(http.StatusOK)
			return
		}
		logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to normalize event")
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	select {
	case h.eventsCh <- event:
		logger.Info().
			Str("kind", string(event.Kind)).
			Str("repo", event.RepoFullName()).
			Str("dedup_hash", event.DedupHash).
			Msg("Webhook event accepted")
	default:
		logger.Warn().Str("repo", event.RepoFullName()).Msg("Event channel full, dropping event")
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
