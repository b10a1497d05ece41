package github

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/pkg/logger"
)

const pollPageSize = 20

// Poller is the secondary ingestion path: it periodically lists recent
// events for every subscribed repository through the GitHub Events API and
// feeds them into the same dispatch channel as the webhook endpoint. The
// delivery log's dedup guard absorbs any overlap between the two paths.
type Poller struct {
	client   *Client
	store    *storage.SubscriptionStore
	eventsCh chan<- *NormalizedEvent
	interval time.Duration

	// Events older than startTime are never emitted, so a restart does not
	// replay history into every subscribed channel.
	startTime time.Time
	seen      map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new repository poller.
func NewPoller(client *Client, store *storage.SubscriptionStore, eventsCh chan<- *NormalizedEvent, intervalSeconds int) *Poller {
	ctx, cancel := context.WithCancel(context.Background())

	interval := time.Duration(intervalSeconds) * time.Second
	if interval < 60*time.Second {
		interval = 60 * time.Second // Minimum 1 minute to respect rate limits
	}

	return &Poller{
		client:    client,
		store:     store,
		eventsCh:  eventsCh,
		interval:  interval,
		startTime: time.Now(),
		seen:      make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.pollLoop()
	logger.Info().Dur("interval", p.interval).Msg("Poller started")
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	logger.Info().Msg("Stopping poller")
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

func (p *Poller) pollAll() {
	repos, err := p.store.AllSubscribedRepos()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list subscribed repositories")
		return
	}

	for _, repo := range repos {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		p.pollRepo(repo.Owner, repo.Name)
	}

	// The seen set only needs to cover the overlap between consecutive
	// polls; reset it before it grows without bound.
	if len(p.seen) > 16384 {
		p.seen = make(map[string]bool)
	}
}

func (p *Poller) pollRepo(owner, name string) {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	events, err := p.client.ListRecentEvents(ctx, owner, name, pollPageSize)
	if err != nil {
		logger.Warn().Err(err).Str("repo", owner+"/"+name).Msg("Failed to poll repository events")
		return
	}

	for _, raw := range events {
		id := raw.GetID()
		if id == "" || p.seen[id] {
			continue
		}
		if raw.GetCreatedAt().Time.Before(p.startTime) {
			p.seen[id] = true
			continue
		}

		event, err := p.convertEvent(raw, owner, name)
		if err != nil {
			logger.Debug().Err(err).Str("type", raw.GetType()).Msg("Skipping unconvertible polled event")
			p.seen[id] = true
			continue
		}
		p.seen[id] = true
		if event == nil {
			continue
		}

		select {
		case p.eventsCh <- event:
			logger.Info().
				Str("kind", string(event.Kind)).
				Str("repo", event.RepoFullName()).
				Msg("Polled event accepted")
		default:
			logger.Warn().Str("repo", event.RepoFullName()).Msg("Event channel full, dropping polled event")
		}
	}
}

// convertEvent maps an Events API entry onto a NormalizedEvent. The event id
// serves as the dedup seed the way a webhook delivery id would. Returns nil
// for event types or actions the relay does not render.
func (p *Poller) convertEvent(raw *gh.Event, owner, name string) (*NormalizedEvent, error) {
	payload, err := raw.ParsePayload()
	if err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}

	ev := &NormalizedEvent{
		RepoOwner: owner,
		RepoName:  name,
		Actor:     raw.GetActor().GetLogin(),
		DedupHash: raw.GetID(),
	}

	switch pl := payload.(type) {
	case *gh.PushEvent:
		ev.Kind = storage.KindPush
		ev.Action = "pushed"
		commits := make([]CommitInfo, 0, len(pl.Commits))
		for _, c := range pl.Commits {
			sha := c.GetSHA()
			if sha == "" {
				sha = c.GetID()
			}
			commits = append(commits, CommitInfo{
				SHA:     sha,
				Message: c.GetMessage(),
				URL:     c.GetURL(),
				Author:  UserInfo{Login: c.GetAuthor().GetName()},
			})
		}
		ev.Payload = &PushPayload{
			Ref:     pl.GetRef(),
			Before:  pl.GetBefore(),
			After:   pl.GetHead(),
			Compare: fmt.Sprintf("https://github.com/%s/%s/compare/%s...%s", owner, name, shortRef(pl.GetBefore()), shortRef(pl.GetHead())),
			Pusher:  UserInfo{Login: raw.GetActor().GetLogin()},
			Commits: commits,
		}

	case *gh.IssuesEvent:
		action := pl.GetAction()
		if action != "opened" && action != "closed" && action != "reopened" {
			return nil, nil
		}
		issue := pl.GetIssue()
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.GetName())
		}
		var assignee *UserInfo
		if issue.GetAssignee() != nil {
			assignee = &UserInfo{
				Login:     issue.GetAssignee().GetLogin(),
				AvatarURL: issue.GetAssignee().GetAvatarURL(),
				URL:       issue.GetAssignee().GetHTMLURL(),
			}
		}
		ev.Kind = storage.KindIssue
		ev.Action = action
		ev.Payload = &IssuePayload{
			Action: action,
			Number: issue.GetNumber(),
			Title:  issue.GetTitle(),
			State:  issue.GetState(),
			URL:    issue.GetHTMLURL(),
			User: UserInfo{
				Login:     issue.GetUser().GetLogin(),
				AvatarURL: issue.GetUser().GetAvatarURL(),
				URL:       issue.GetUser().GetHTMLURL(),
			},
			Labels:   labels,
			Assignee: assignee,
		}

	case *gh.PullRequestEvent:
		action := pl.GetAction()
		if action != "opened" && action != "closed" && action != "reopened" {
			return nil, nil
		}
		pr := pl.GetPullRequest()
		var mergedBy *UserInfo
		if pr.GetMergedBy() != nil {
			mergedBy = &UserInfo{
				Login:     pr.GetMergedBy().GetLogin(),
				AvatarURL: pr.GetMergedBy().GetAvatarURL(),
				URL:       pr.GetMergedBy().GetHTMLURL(),
			}
		}
		ev.Kind = storage.KindPullRequest
		ev.Action = action
		ev.Payload = &PullRequestPayload{
			Action:    action,
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			State:     pr.GetState(),
			URL:       pr.GetHTMLURL(),
			Merged:    pr.GetMerged(),
			MergedBy:  mergedBy,
			Additions: pr.GetAdditions(),
			Deletions: pr.GetDeletions(),
			Commits:   pr.GetCommits(),
			User: UserInfo{
				Login:     pr.GetUser().GetLogin(),
				AvatarURL: pr.GetUser().GetAvatarURL(),
				URL:       pr.GetUser().GetHTMLURL(),
			},
			Base: BranchInfo{Ref: pr.GetBase().GetRef(), SHA: pr.GetBase().GetSHA()},
			Head: BranchInfo{Ref: pr.GetHead().GetRef(), SHA: pr.GetHead().GetSHA()},
		}

	case *gh.ReleaseEvent:
		if pl.GetAction() != "published" {
			return nil, nil
		}
		rel := pl.GetRelease()
		ev.Kind = storage.KindRelease
		ev.Action = pl.GetAction()
		ev.Payload = &ReleasePayload{
			Action:     pl.GetAction(),
			TagName:    rel.GetTagName(),
			Name:       rel.GetName(),
			Body:       rel.GetBody(),
			Draft:      rel.GetDraft(),
			Prerelease: rel.GetPrerelease(),
			URL:        rel.GetHTMLURL(),
			Author: UserInfo{
				Login:     rel.GetAuthor().GetLogin(),
				AvatarURL: rel.GetAuthor().GetAvatarURL(),
				URL:       rel.GetAuthor().GetHTMLURL(),
			},
		}

	default:
		return nil, nil
	}

	return ev, nil
}

func shortRef(sha string) string {
	if strings.HasPrefix(sha, "refs/heads/") {
		return sha[len("refs/heads/"):]
	}
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
