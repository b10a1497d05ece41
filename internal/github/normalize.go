package github

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/githubrelay/internal/storage"
)

// NormalizationReason classifies why a payload could not be normalized.
type NormalizationReason int

const (
	// ReasonUnknownKind marks an event type outside the recognized set.
	ReasonUnknownKind NormalizationReason = iota
	// ReasonMalformedPayload marks a body missing required fields.
	ReasonMalformedPayload
)

// NormalizationError is returned when an inbound payload cannot be turned
// into a NormalizedEvent. Both reasons are terminal for the event but not
// for the pipeline: the event is dropped, never retried.
type NormalizationError struct {
	Reason NormalizationReason
	Kind   string
	Detail string
}

func (e *NormalizationError) Error() string {
	switch e.Reason {
	case ReasonUnknownKind:
		return fmt.Sprintf("unknown event kind %q", e.Kind)
	default:
		return fmt.Sprintf("malformed %s payload: %s", e.Kind, e.Detail)
	}
}

func unknownKind(kind string) error {
	return &NormalizationError{Reason: ReasonUnknownKind, Kind: kind}
}

func malformed(kind, detail string) error {
	return &NormalizationError{Reason: ReasonMalformedPayload, Kind: kind, Detail: detail}
}

// recognizedKinds are event types GitHub delivers that the relay accepts but
// does not render. They normalize to KindUnhandled and are skipped by the
// dispatcher instead of being rejected at the boundary.
var recognizedKinds = map[string]bool{
	"ping": true, "star": true, "fork": true, "watch": true,
	"create": true, "delete": true, "public": true, "member": true,
	"gollum": true, "status": true, "issue_comment": true,
	"pull_request_review": true, "pull_request_review_comment": true,
	"workflow_run": true, "workflow_job": true, "check_run": true,
	"check_suite": true, "deployment": true, "deployment_status": true,
	"repository": true, "branch_protection_rule": true, "page_build": true,
	"commit_comment": true, "discussion": true, "discussion_comment": true,
	"label": true, "milestone": true, "package": true, "registry_package": true,
	"team_add": true, "meta": true,
}

// Normalize parses a raw webhook body plus its event-type header into a
// NormalizedEvent. deliveryID is the source-supplied delivery identifier
// (X-GitHub-Delivery); when present it seeds the dedup hash, otherwise the
// hash is derived from the fields that define "the same event".
func Normalize(eventType, deliveryID string, body []byte) (*NormalizedEvent, error) {
	kind := normalizeKind(eventType)
	if kind == "" {
		return nil, unknownKind(eventType)
	}

	var base struct {
		Action     string `json:"action"`
		Repository struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
				Name  string `json:"name"`
			} `json:"owner"`
		} `json:"repository"`
		Sender struct {
			Login string `json:"login"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(body, &base); err != nil {
		return nil, malformed(eventType, "body is not valid JSON")
	}

	owner := base.Repository.Owner.Login
	if owner == "" {
		// Push payloads carry the owner name instead of a login.
		owner = base.Repository.Owner.Name
	}
	if owner == "" || base.Repository.Name == "" {
		return nil, malformed(eventType, "missing repository identity")
	}

	ev := &NormalizedEvent{
		Kind:      kind,
		RepoOwner: owner,
		RepoName:  base.Repository.Name,
		Actor:     base.Sender.Login,
		Action:    base.Action,
	}

	var entity string
	var err error
	switch kind {
	case storage.KindPush:
		entity, err = parsePush(ev, body)
	case storage.KindIssue:
		entity, err = parseIssue(ev, body)
	case storage.KindPullRequest:
		entity, err = parsePullRequest(ev, body)
	case storage.KindRelease:
		entity, err = parseRelease(ev, body)
	case storage.KindUnhandled:
		// Accepted but non-renderable; the dispatcher skips it.
	}
	if err != nil {
		return nil, err
	}

	if deliveryID != "" {
		ev.DedupHash = deliveryID
	} else {
		ev.DedupHash = hashEventKey(ev.Kind, ev.RepoFullName(), ev.Action, entity)
	}
	return ev, nil
}

// normalizeKind maps an event-type header to an internal kind. Returns the
// empty kind for types outside the recognized set.
func normalizeKind(eventType string) storage.EventKind {
	switch eventType {
	case "push":
		return storage.KindPush
	case "issues":
		return storage.KindIssue
	case "pull_request":
		return storage.KindPullRequest
	case "release":
		return storage.KindRelease
	default:
		if recognizedKinds[eventType] {
			return storage.KindUnhandled
		}
		return ""
	}
}

// hashEventKey derives the content-addressed dedup key from the ordered
// tuple of fields that identify one logical event.
func hashEventKey(kind storage.EventKind, fullName, action, entity string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{string(kind), fullName, action, entity}, "|")))
	return hex.EncodeToString(sum[:])
}

func parsePush(ev *NormalizedEvent, body []byte) (string, error) {
	var p struct {
		Ref     string `json:"ref"`
		Before  string `json:"before"`
		After   string `json:"after"`
		Compare string `json:"compare"`
		Pusher  struct {
			Name string `json:"name"`
		} `json:"pusher"`
		Commits []struct {
			ID       string   `json:"id"`
			Message  string   `json:"message"`
			URL      string   `json:"url"`
			Added    []string `json:"added"`
			Removed  []string `json:"removed"`
			Modified []string `json:"modified"`
			Author   struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", malformed("push", "invalid push fields")
	}
	if p.Ref == "" {
		return "", malformed("push", "missing ref")
	}

	commits := make([]CommitInfo, len(p.Commits))
	for i, c := range p.Commits {
		commits[i] = CommitInfo{
			SHA:      c.ID,
			Message:  c.Message,
			URL:      c.URL,
			Author:   UserInfo{Login: c.Author.Name},
			Added:    c.Added,
			Removed:  c.Removed,
			Modified: c.Modified,
		}
	}

	ev.Action = "pushed"
	if ev.Actor == "" {
		ev.Actor = p.Pusher.Name
	}
	ev.Payload = &PushPayload{
		Ref:     p.Ref,
		Before:  p.Before,
		After:   p.After,
		Compare: p.Compare,
		Pusher:  UserInfo{Login: p.Pusher.Name},
		Commits: commits,
	}

	// The commit range identifies the push.
	return p.Before + ".." + p.After, nil
}

func parseIssue(ev *NormalizedEvent, body []byte) (string, error) {
	var p struct {
		Action string `json:"action"`
		Issue  struct {
			Number  int    `json:"number"`
			Title   string `json:"title"`
			State   string `json:"state"`
			HTMLURL string `json:"html_url"`
			User    struct {
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
				HTMLURL   string `json:"html_url"`
			} `json:"user"`
			Labels []struct {
				Name string `json:"name"`
			} `json:"labels"`
			Assignee *struct {
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
				HTMLURL   string `json:"html_url"`
			} `json:"assignee"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", malformed("issues", "invalid issue fields")
	}
	if p.Issue.Number == 0 || p.Action == "" {
		return "", malformed("issues", "missing issue number or action")
	}

	// Only lifecycle transitions are rendered; edits, label changes and the
	// rest pass through as unhandled.
	if p.Action != "opened" && p.Action != "closed" && p.Action != "reopened" {
		ev.Kind = storage.KindUnhandled
		return fmt.Sprintf("%d", p.Issue.Number), nil
	}

	labels := make([]string, len(p.Issue.Labels))
	for i, l := range p.Issue.Labels {
		labels[i] = l.Name
	}

	var assignee *UserInfo
	if p.Issue.Assignee != nil {
		assignee = &UserInfo{
			Login:     p.Issue.Assignee.Login,
			AvatarURL: p.Issue.Assignee.AvatarURL,
			URL:       p.Issue.Assignee.HTMLURL,
		}
	}

	ev.Action = p.Action
	ev.Payload = &IssuePayload{
		Action: p.Action,
		Number: p.Issue.Number,
		Title:  p.Issue.Title,
		State:  p.Issue.State,
		URL:    p.Issue.HTMLURL,
		User: UserInfo{
			Login:     p.Issue.User.Login,
			AvatarURL: p.Issue.User.AvatarURL,
			URL:       p.Issue.User.HTMLURL,
		},
		Labels:   labels,
		Assignee: assignee,
	}
	return fmt.Sprintf("%d", p.Issue.Number), nil
}

func parsePullRequest(ev *NormalizedEvent, body []byte) (string, error) {
	var p struct {
		Action      string `json:"action"`
		PullRequest struct {
			Number    int    `json:"number"`
			Title     string `json:"title"`
			State     string `json:"state"`
			HTMLURL   string `json:"html_url"`
			Merged    bool   `json:"merged"`
			Additions int    `json:"additions"`
			Deletions int    `json:"deletions"`
			Commits   int    `json:"commits"`
			User      struct {
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
				HTMLURL   string `json:"html_url"`
			} `json:"user"`
			MergedBy *struct {
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
				HTMLURL   string `json:"html_url"`
			} `json:"merged_by"`
			Base struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"base"`
			Head struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"head"`
		} `json:"pull_request"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", malformed("pull_request", "invalid pull request fields")
	}
	if p.PullRequest.Number == 0 || p.Action == "" {
		return "", malformed("pull_request", "missing pull request number or action")
	}

	if p.Action != "opened" && p.Action != "closed" && p.Action != "reopened" {
		ev.Kind = storage.KindUnhandled
		return fmt.Sprintf("%d", p.PullRequest.Number), nil
	}

	var mergedBy *UserInfo
	if p.PullRequest.MergedBy != nil {
		mergedBy = &UserInfo{
			Login:     p.PullRequest.MergedBy.Login,
			AvatarURL: p.PullRequest.MergedBy.AvatarURL,
			URL:       p.PullRequest.MergedBy.HTMLURL,
		}
	}

	ev.Action = p.Action
	ev.Payload = &PullRequestPayload{
		Action:    p.Action,
		Number:    p.PullRequest.Number,
		Title:     p.PullRequest.Title,
		State:     p.PullRequest.State,
		URL:       p.PullRequest.HTMLURL,
		Merged:    p.PullRequest.Merged,
		MergedBy:  mergedBy,
		Additions: p.PullRequest.Additions,
		Deletions: p.PullRequest.Deletions,
		Commits:   p.PullRequest.Commits,
		User: UserInfo{
			Login:     p.PullRequest.User.Login,
			AvatarURL: p.PullRequest.User.AvatarURL,
			URL:       p.PullRequest.User.HTMLURL,
		},
		Base: BranchInfo{Ref: p.PullRequest.Base.Ref, SHA: p.PullRequest.Base.SHA},
		Head: BranchInfo{Ref: p.PullRequest.Head.Ref, SHA: p.PullRequest.Head.SHA},
	}
	return fmt.Sprintf("%d", p.PullRequest.Number), nil
}

func parseRelease(ev *NormalizedEvent, body []byte) (string, error) {
	var p struct {
		Action  string `json:"action"`
		Release struct {
			TagName    string `json:"tag_name"`
			Name       string `json:"name"`
			Body       string `json:"body"`
			Draft      bool   `json:"draft"`
			Prerelease bool   `json:"prerelease"`
			HTMLURL    string `json:"html_url"`
			Author     struct {
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
				HTMLURL   string `json:"html_url"`
			} `json:"author"`
		} `json:"release"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", malformed("release", "invalid release fields")
	}
	if p.Release.TagName == "" || p.Action == "" {
		return "", malformed("release", "missing release tag or action")
	}

	// Drafts and edits stay quiet; only publication is announced.
	if p.Action != "published" {
		ev.Kind = storage.KindUnhandled
		return p.Release.TagName, nil
	}

	ev.Action = p.Action
	ev.Payload = &ReleasePayload{
		Action:     p.Action,
		TagName:    p.Release.TagName,
		Name:       p.Release.Name,
		Body:       p.Release.Body,
		Draft:      p.Release.Draft,
		Prerelease: p.Release.Prerelease,
		URL:        p.Release.HTMLURL,
		Author: UserInfo{
			Login:     p.Release.Author.Login,
			AvatarURL: p.Release.Author.AvatarURL,
			URL:       p.Release.Author.HTMLURL,
		},
	}
	return p.Release.TagName, nil
}
