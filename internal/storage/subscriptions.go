package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSubscriptionNotFound is returned when unsubscribing an unknown or
// already-inactive subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStore owns server, repository and subscription persistence.
type SubscriptionStore struct {
	db *Database
}

// NewSubscriptionStore creates a new subscription store.
func NewSubscriptionStore(db *Database) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// UpsertServer creates or refreshes a server record. Servers are created on
// first contact and kept forever so a rejoin finds its history in place.
func (s *SubscriptionStore) UpsertServer(serverID int64, name string) error {
	query := `
		INSERT INTO servers (server_id, name)
		VALUES (?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			name = excluded.name,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.Exec(query, serverID, name)
	return err
}

// GetServer returns a server record, or nil when unknown.
func (s *SubscriptionStore) GetServer(serverID int64) (*Server, error) {
	var srv Server
	err := s.db.Get(&srv, `SELECT * FROM servers WHERE server_id = ?`, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &srv, err
}

// UpsertRepository creates a tracked repository if it does not exist and
// returns its identifier. Creating an existing (owner, name) pair is not an
// error; the pre-existing identifier is returned.
func (s *SubscriptionStore) UpsertRepository(owner, name, url string) (int64, error) {
	query := `
		INSERT INTO repositories (owner, name, url)
		VALUES (?, ?, ?)
		ON CONFLICT(owner, name) DO NOTHING
	`
	if _, err := s.db.Exec(query, owner, name, url); err != nil {
		return 0, fmt.Errorf("failed to upsert repository: %w", err)
	}

	var id int64
	err := s.db.Get(&id, `SELECT id FROM repositories WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve repository id: %w", err)
	}
	return id, nil
}

// GetRepositoryByFullName returns a repository by owner and name, or nil.
func (s *SubscriptionStore) GetRepositoryByFullName(owner, name string) (*Repository, error) {
	var repo Repository
	err := s.db.Get(&repo, `SELECT * FROM repositories WHERE owner = ? AND name = ?`, owner, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &repo, err
}

// Subscribe creates or updates the subscription for a (server, repository,
// channel) triple. Re-subscribing an active triple replaces its enabled-event
// set; re-subscribing a soft-deleted triple reactivates it. At most one
// active subscription exists per triple.
func (s *SubscriptionStore) Subscribe(serverID, repositoryID, channelID int64, kinds []EventKind) (*Subscription, error) {
	events, err := MarshalKinds(kinds)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO subscriptions (server_id, repository_id, channel_id, enabled_events)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(server_id, repository_id, channel_id) DO UPDATE SET
			enabled_events = excluded.enabled_events,
			is_active = 1
	`
	if _, err := s.db.Exec(query, serverID, repositoryID, channelID, events); err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	var sub Subscription
	err = s.db.Get(&sub, `
		SELECT * FROM subscriptions
		WHERE server_id = ? AND repository_id = ? AND channel_id = ?`,
		serverID, repositoryID, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// Unsubscribe soft-deletes a subscription by clearing its active flag. The
// row persists for audit and dedup history.
func (s *SubscriptionStore) Unsubscribe(subscriptionID int64) error {
	result, err := s.db.Exec(
		`UPDATE subscriptions SET is_active = 0 WHERE id = ? AND is_active = 1`,
		subscriptionID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions returns the active subscriptions for a server.
func (s *SubscriptionStore) ListSubscriptions(serverID int64) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.Select(&subs, `
		SELECT * FROM subscriptions
		WHERE server_id = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC`,
		serverID)
	return subs, err
}

// ActiveSubscriptionsByRepo resolves the active subscriptions for a
// repository full name. Webhook payloads carry the owner/name pair, not the
// internal repository id, so resolution goes through the repositories table.
// The dispatcher checks each subscription's enabled-event set itself so a
// kind-disabled destination shows up as skipped in its summary.
func (s *SubscriptionStore) ActiveSubscriptionsByRepo(owner, name string) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.Select(&subs, `
		SELECT s.* FROM subscriptions s
		JOIN repositories r ON r.id = s.repository_id
		WHERE r.owner = ? AND r.name = ? AND s.is_active = 1
		ORDER BY s.id`,
		owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	return subs, nil
}

// MatchingSubscriptions returns the active subscriptions for a repository
// whose enabled-event set contains the given kind.
func (s *SubscriptionStore) MatchingSubscriptions(owner, name string, kind EventKind) ([]Subscription, error) {
	subs, err := s.ActiveSubscriptionsByRepo(owner, name)
	if err != nil {
		return nil, err
	}
	matched := subs[:0]
	for _, sub := range subs {
		if sub.KindEnabled(kind) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// AllSubscribedRepos returns every repository with at least one active
// subscription. Used by the poller to know what to watch.
func (s *SubscriptionStore) AllSubscribedRepos() ([]Repository, error) {
	var repos []Repository
	err := s.db.Select(&repos, `
		SELECT DISTINCT r.* FROM repositories r
		JOIN subscriptions s ON s.repository_id = r.id
		WHERE s.is_active = 1
		ORDER BY r.id`)
	return repos, err
}
