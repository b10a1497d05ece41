// Package api exposes the management and audit capabilities over HTTP.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/user/githubrelay/internal/manage"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/pkg/logger"
)

// Handler serves the management API.
type Handler struct {
	svc        *manage.Service
	deliveries *storage.DeliveryLog
	adminToken string
	guard      manage.Guard
}

// NewHandler creates the API handler. adminToken may be empty, in which case
// every caller is treated as an administrator (trusted-network deployments).
func NewHandler(svc *manage.Service, deliveries *storage.DeliveryLog, adminToken string) *Handler {
	return &Handler{
		svc:        svc,
		deliveries: deliveries,
		adminToken: adminToken,
		guard: manage.Chain(
			manage.RequireAdministrator(),
			manage.RequireServer(),
		),
	}
}

// Routes mounts the management endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/subscriptions", h.subscribe)
	r.Delete("/subscriptions/{id}", h.unsubscribe)
	r.Get("/subscriptions", h.listSubscriptions)
	r.Get("/deliveries/failures", h.recentFailures)
	return r
}

type subscribeBody struct {
	ServerID   int64    `json:"server_id"`
	ServerName string   `json:"server_name"`
	Repository string   `json:"repository"` // owner/name
	ChannelID  int64    `json:"channel_id"`
	Events     []string `json:"events"`
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rc := manage.RequestContext{
		ServerID:      body.ServerID,
		ChannelID:     body.ChannelID,
		Administrator: h.isAdmin(r),
	}
	if d := manage.Chain(h.guard, manage.RequireChannel())(rc); d != nil {
		writeDenial(w, d)
		return
	}

	kinds := make([]storage.EventKind, len(body.Events))
	for i, e := range body.Events {
		kinds[i] = storage.EventKind(e)
	}

	sub, err := h.svc.Subscribe(r.Context(), manage.SubscribeRequest{
		ServerID:   body.ServerID,
		ServerName: body.ServerName,
		RepoName:   body.Repository,
		ChannelID:  body.ChannelID,
		Kinds:      kinds,
	})
	if err != nil {
		switch {
		case errors.Is(err, manage.ErrInvalidRepoName),
			errors.Is(err, manage.ErrUnknownEventKind):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, manage.ErrRepoNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			logger.Error().Err(err).Msg("Subscribe failed")
			writeError(w, http.StatusInternalServerError, "subscribe failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeDenial(w, &manage.Denial{Code: manage.DenialNotAdmin, Message: "administrator rights are required"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	if err := h.svc.Unsubscribe(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		logger.Error().Err(err).Int64("subscription_id", id).Msg("Unsubscribe failed")
		writeError(w, http.StatusInternalServerError, "unsubscribe failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	serverID, err := strconv.ParseInt(r.URL.Query().Get("server_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "server_id query parameter is required")
		return
	}

	rc := manage.RequestContext{ServerID: serverID, Administrator: h.isAdmin(r)}
	if d := h.guard(rc); d != nil {
		writeDenial(w, d)
		return
	}

	subs, err := h.svc.ListSubscriptions(r.Context(), serverID)
	if err != nil {
		logger.Error().Err(err).Int64("server_id", serverID).Msg("List subscriptions failed")
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []storage.Subscription{}
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) recentFailures(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeDenial(w, &manage.Denial{Code: manage.DenialNotAdmin, Message: "administrator rights are required"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := h.deliveries.RecentFailures(limit)
	if err != nil {
		logger.Error().Err(err).Msg("Recent failures query failed")
		writeError(w, http.StatusInternalServerError, "failed to query delivery log")
		return
	}
	if recs == nil {
		recs = []storage.DeliveryRecord{}
	}

	writeJSON(w, http.StatusOK, recs)
}

// isAdmin checks the bearer token. An empty configured token grants admin to
// every caller.
func (h *Handler) isAdmin(r *http.Request) bool {
	if h.adminToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeDenial(w http.ResponseWriter, d *manage.Denial) {
	writeJSON(w, http.StatusForbidden, map[string]string{
		"error": d.Message,
		"code":  string(d.Code),
	})
}
