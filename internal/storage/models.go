// Package storage provides database operations and data models.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Server represents a chat community the relay can deliver into.
// Server records are created on first contact and never deleted.
type Server struct {
	ServerID  int64        `db:"server_id"`
	Name      string       `db:"name"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

// Repository represents a tracked GitHub repository.
type Repository struct {
	ID        int64     `db:"id"`
	Owner     string    `db:"owner"`
	Name      string    `db:"name"`
	URL       string    `db:"url"`
	CreatedAt time.Time `db:"created_at"`
}

// FullName returns the owner/name form of the repository.
func (r *Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Subscription binds a server and channel to a repository and event set.
// Unsubscribing clears IsActive; rows are never removed so the delivery
// history behind them stays intact.
type Subscription struct {
	ID            int64     `db:"id"`
	ServerID      int64     `db:"server_id"`
	RepositoryID  int64     `db:"repository_id"`
	ChannelID     int64     `db:"channel_id"`
	EnabledEvents string    `db:"enabled_events"` // JSON array of event kinds
	CreatedAt     time.Time `db:"created_at"`
	IsActive      bool      `db:"is_active"`
}

// Kinds decodes the enabled-event set.
func (s *Subscription) Kinds() ([]EventKind, error) {
	var kinds []EventKind
	if err := json.Unmarshal([]byte(s.EnabledEvents), &kinds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal enabled events: %w", err)
	}
	return kinds, nil
}

// KindEnabled reports whether the subscription wants the given event kind.
func (s *Subscription) KindEnabled(kind EventKind) bool {
	kinds, err := s.Kinds()
	if err != nil {
		return false
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DeliveryRecord is one attempted delivery of one event to one channel.
// Records are append-only; they back both audit queries and the dedup guard.
type DeliveryRecord struct {
	ID           int64          `db:"id"`
	EventKind    EventKind      `db:"event_kind"`
	RepositoryID int64          `db:"repository_id"`
	ServerID     int64          `db:"server_id"`
	ChannelID    int64          `db:"channel_id"`
	DeliveredAt  time.Time      `db:"delivered_at"`
	PayloadHash  string         `db:"payload_hash"`
	Success      bool           `db:"success"`
	ErrorDetail  sql.NullString `db:"error_detail"`
}

// EventKind identifies the type of GitHub event.
type EventKind string

const (
	KindPush        EventKind = "push"
	KindRelease     EventKind = "release"
	KindIssue       EventKind = "issues"
	KindPullRequest EventKind = "pull_request"

	// KindUnhandled marks events the relay recognizes but cannot render.
	// It is never persisted in a subscription's enabled set.
	KindUnhandled EventKind = "unhandled"
)

// AllEventKinds returns every subscribable event kind.
func AllEventKinds() []EventKind {
	return []EventKind{
		KindPush,
		KindRelease,
		KindIssue,
		KindPullRequest,
	}
}

// ValidEventKind reports whether the kind can appear in a subscription.
func ValidEventKind(kind EventKind) bool {
	for _, k := range AllEventKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// MarshalKinds serializes an event-kind set for storage.
func MarshalKinds(kinds []EventKind) (string, error) {
	raw, err := json.Marshal(kinds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event kinds: %w", err)
	}
	return string(raw), nil
}
