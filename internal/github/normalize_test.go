package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/githubrelay/internal/storage"
)

const prOpenedBody = `{
	"action": "opened",
	"repository": {"name": "widgets", "owner": {"login": "acme"}},
	"sender": {"login": "octocat"},
	"pull_request": {
		"number": 42,
		"title": "Add frobnicator",
		"state": "open",
		"html_url": "https://github.com/acme/widgets/pull/42",
		"user": {"login": "octocat", "html_url": "https://github.com/octocat"},
		"base": {"ref": "main", "sha": "aaa"},
		"head": {"ref": "feature", "sha": "bbb"},
		"commits": 3,
		"additions": 10,
		"deletions": 2
	}
}`

const pushBody = `{
	"ref": "refs/heads/main",
	"before": "0000000000",
	"after": "1111111111",
	"compare": "https://github.com/acme/widgets/compare/000...111",
	"repository": {"name": "widgets", "owner": {"name": "acme"}},
	"pusher": {"name": "octocat"},
	"commits": [
		{"id": "1111111111", "message": "fix the thing", "url": "https://github.com/acme/widgets/commit/111",
		 "author": {"name": "octocat"}}
	]
}`

const issueClosedBody = `{
	"action": "closed",
	"repository": {"name": "widgets", "owner": {"login": "acme"}},
	"sender": {"login": "maintainer"},
	"issue": {
		"number": 7,
		"title": "It is broken",
		"state": "closed",
		"html_url": "https://github.com/acme/widgets/issues/7",
		"user": {"login": "reporter"},
		"labels": [{"name": "bug"}]
	}
}`

const releasePublishedBody = `{
	"action": "published",
	"repository": {"name": "widgets", "owner": {"login": "acme"}},
	"sender": {"login": "octocat"},
	"release": {
		"tag_name": "v1.2.0",
		"name": "v1.2.0",
		"html_url": "https://github.com/acme/widgets/releases/v1.2.0",
		"author": {"login": "octocat"}
	}
}`

func TestNormalizePullRequestOpened(t *testing.T) {
	ev, err := Normalize("pull_request", "delivery-123", []byte(prOpenedBody))
	require.NoError(t, err)

	assert.Equal(t, storage.KindPullRequest, ev.Kind)
	assert.Equal(t, "acme", ev.RepoOwner)
	assert.Equal(t, "widgets", ev.RepoName)
	assert.Equal(t, "acme/widgets", ev.RepoFullName())
	assert.Equal(t, "octocat", ev.Actor)
	assert.Equal(t, "opened", ev.Action)
	assert.True(t, ev.Renderable())

	pr, ok := ev.Payload.(*PullRequestPayload)
	require.True(t, ok)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "main", pr.Base.Ref)
	assert.Equal(t, "feature", pr.Head.Ref)
}

func TestNormalizePush(t *testing.T) {
	ev, err := Normalize("push", "", []byte(pushBody))
	require.NoError(t, err)

	assert.Equal(t, storage.KindPush, ev.Kind)
	assert.Equal(t, "acme", ev.RepoOwner)
	assert.Equal(t, "pushed", ev.Action)

	push, ok := ev.Payload.(*PushPayload)
	require.True(t, ok)
	assert.Equal(t, "refs/heads/main", push.Ref)
	require.Len(t, push.Commits, 1)
	assert.Equal(t, "fix the thing", push.Commits[0].Message)
}

func TestNormalizeIssueClosed(t *testing.T) {
	ev, err := Normalize("issues", "", []byte(issueClosedBody))
	require.NoError(t, err)

	assert.Equal(t, storage.KindIssue, ev.Kind)
	issue, ok := ev.Payload.(*IssuePayload)
	require.True(t, ok)
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, []string{"bug"}, issue.Labels)
}

func TestNormalizeReleasePublished(t *testing.T) {
	ev, err := Normalize("release", "", []byte(releasePublishedBody))
	require.NoError(t, err)

	assert.Equal(t, storage.KindRelease, ev.Kind)
	rel, ok := ev.Payload.(*ReleasePayload)
	require.True(t, ok)
	assert.Equal(t, "v1.2.0", rel.TagName)
}

func TestNormalizeUninterestingActionsAreUnhandled(t *testing.T) {
	tests := []struct {
		name string
		kind string
		body string
	}{
		{"issue labeled", "issues", `{
			"action": "labeled",
			"repository": {"name": "widgets", "owner": {"login": "acme"}},
			"issue": {"number": 7}
		}`},
		{"release drafted", "release", `{
			"action": "created",
			"repository": {"name": "widgets", "owner": {"login": "acme"}},
			"release": {"tag_name": "v1.2.0"}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize(tt.kind, "", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, storage.KindUnhandled, ev.Kind)
			assert.False(t, ev.Renderable())
		})
	}
}

func TestNormalizeRecognizedButUnsupportedKind(t *testing.T) {
	body := `{"repository": {"name": "widgets", "owner": {"login": "acme"}}}`
	ev, err := Normalize("star", "", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, storage.KindUnhandled, ev.Kind)
	assert.False(t, ev.Renderable())
	assert.NotEmpty(t, ev.DedupHash)
}

func TestNormalizeUnknownKind(t *testing.T) {
	_, err := Normalize("totally_made_up", "", []byte(`{}`))

	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, ReasonUnknownKind, nerr.Reason)
}

func TestNormalizeMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		kind string
		body string
	}{
		{"missing repository", "push", `{"ref": "refs/heads/main"}`},
		{"not json", "push", `{{{`},
		{"missing ref", "push", `{"repository": {"name": "widgets", "owner": {"name": "acme"}}}`},
		{"missing issue number", "issues", `{"action": "opened", "repository": {"name": "widgets", "owner": {"login": "acme"}}}`},
		{"missing pr number", "pull_request", `{"action": "opened", "repository": {"name": "widgets", "owner": {"login": "acme"}}}`},
		{"missing release tag", "release", `{"action": "published", "repository": {"name": "widgets", "owner": {"login": "acme"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.kind, "", []byte(tt.body))
			var nerr *NormalizationError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, ReasonMalformedPayload, nerr.Reason)
		})
	}
}

func TestDedupHashPrefersDeliveryID(t *testing.T) {
	ev, err := Normalize("pull_request", "delivery-abc", []byte(prOpenedBody))
	require.NoError(t, err)
	assert.Equal(t, "delivery-abc", ev.DedupHash)
}

func TestDedupHashDeterministicWithoutDeliveryID(t *testing.T) {
	first, err := Normalize("pull_request", "", []byte(prOpenedBody))
	require.NoError(t, err)
	second, err := Normalize("pull_request", "", []byte(prOpenedBody))
	require.NoError(t, err)

	assert.Equal(t, first.DedupHash, second.DedupHash)
	assert.Len(t, first.DedupHash, 64) // hex-encoded SHA-256

	// A different entity yields a different hash.
	other, err := Normalize("issues", "", []byte(issueClosedBody))
	require.NoError(t, err)
	assert.NotEqual(t, first.DedupHash, other.DedupHash)
}
