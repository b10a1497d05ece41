// Package manage exposes the subscription management capability consumed by
// command and API surfaces.
package manage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/githubrelay/internal/github"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/pkg/logger"
)

var (
	// ErrInvalidRepoName is returned when the repository reference is not in
	// owner/name form.
	ErrInvalidRepoName = errors.New("repository must be in owner/name form")
	// ErrUnknownEventKind is returned for event kinds outside the
	// subscribable set.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrRepoNotFound is returned when the repository does not exist or is
	// not accessible.
	ErrRepoNotFound = errors.New("repository not found")
)

// RepoValidator checks a repository against the hosting service. Nil-able:
// without one, subscriptions are taken on faith.
type RepoValidator interface {
	GetRepository(ctx context.Context, owner, name string) (*github.RepoInfo, error)
}

// SubscribeRequest is one administrative subscribe action.
type SubscribeRequest struct {
	ServerID   int64
	ServerName string
	RepoName   string // owner/name
	ChannelID  int64
	Kinds      []storage.EventKind
}

// Service implements the subscription management capability over the
// subscription store.
type Service struct {
	store     *storage.SubscriptionStore
	validator RepoValidator
}

// NewService creates a management service. validator may be nil to skip
// repository validation.
func NewService(store *storage.SubscriptionStore, validator RepoValidator) *Service {
	return &Service{store: store, validator: validator}
}

// Subscribe registers (or updates) a subscription for the triple in the
// request. The server and repository records are upserted on the way: a
// server is created on first contact, and subscribing to a known repository
// reuses its identifier.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*storage.Subscription, error) {
	owner, name, err := SplitRepoName(req.RepoName)
	if err != nil {
		return nil, err
	}

	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = storage.AllEventKinds()
	}
	for _, k := range kinds {
		if !storage.ValidEventKind(k) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, k)
		}
	}

	url := fmt.Sprintf("https://github.com/%s/%s", owner, name)
	if s.validator != nil {
		info, err := s.validator.GetRepository(ctx, owner, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrRepoNotFound, owner, name)
		}
		if info.URL != "" {
			url = info.URL
		}
	}

	if err := s.store.UpsertServer(req.ServerID, req.ServerName); err != nil {
		return nil, fmt.Errorf("failed to upsert server: %w", err)
	}

	repoID, err := s.store.UpsertRepository(owner, name, url)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.Subscribe(req.ServerID, repoID, req.ChannelID, kinds)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int64("server_id", req.ServerID).
		Int64("channel_id", req.ChannelID).
		Str("repo", owner+"/"+name).
		Msg("Subscription registered")
	return sub, nil
}

// Unsubscribe soft-deletes a subscription.
func (s *Service) Unsubscribe(ctx context.Context, subscriptionID int64) error {
	return s.store.Unsubscribe(subscriptionID)
}

// ListSubscriptions returns the active subscriptions for a server.
func (s *Service) ListSubscriptions(ctx context.Context, serverID int64) ([]storage.Subscription, error) {
	return s.store.ListSubscriptions(serverID)
}

// SplitRepoName parses an owner/name reference.
func SplitRepoName(full string) (owner, name string, err error) {
	parts := strings.Split(strings.TrimSpace(full), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidRepoName
	}
	return parts[0], parts[1], nil
}
