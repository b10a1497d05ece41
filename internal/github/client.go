// Package github provides webhook ingestion, event normalization and the
// GitHub API client.
package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client wraps the GitHub API client.
type Client struct {
	client *github.Client
}

// NewClient creates a new GitHub API client.
// If token is empty, an unauthenticated client is created (with lower rate limits).
func NewClient(token string) *Client {
	var client *github.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{client: client}
}

// RepoInfo contains basic repository information.
type RepoInfo struct {
	Owner       string
	Name        string
	FullName    string
	Description string
	URL         string
}

// GetRepository retrieves information about a repository. It is used at
// subscribe time to validate the repository and capture its canonical URL.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*RepoInfo, error) {
	r, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	return &RepoInfo{
		Owner:       owner,
		Name:        repo,
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		URL:         r.GetHTMLURL(),
	}, nil
}

// ListRecentEvents returns the most recent public events for a repository.
// Used by the polling ingestion mode.
func (c *Client) ListRecentEvents(ctx context.Context, owner, repo string, perPage int) ([]*github.Event, error) {
	events, _, err := c.client.Activity.ListRepositoryEvents(ctx, owner, repo, &github.ListOptions{
		PerPage: perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repository events: %w", err)
	}
	return events, nil
}
