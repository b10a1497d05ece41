package github

import (
	"fmt"

	"github.com/user/githubrelay/internal/storage"
)

// NormalizedEvent is the uniform internal event record the pipeline works
// with. Payload holds the tagged variant for the event kind; it is nil for
// unhandled kinds, which are normalized but not renderable.
type NormalizedEvent struct {
	Kind      storage.EventKind
	RepoOwner string
	RepoName  string
	Actor     string
	Action    string
	DedupHash string
	Payload   any // *PushPayload, *IssuePayload, *PullRequestPayload or *ReleasePayload
}

// RepoFullName returns the owner/name form of the event's repository.
func (e *NormalizedEvent) RepoFullName() string {
	return fmt.Sprintf("%s/%s", e.RepoOwner, e.RepoName)
}

// Renderable reports whether the event carries a payload the presentation
// layer knows how to format.
func (e *NormalizedEvent) Renderable() bool {
	return e.Kind != storage.KindUnhandled && e.Payload != nil
}

// UserInfo identifies a GitHub user.
type UserInfo struct {
	Login     string
	AvatarURL string
	URL       string
}

// CommitInfo describes one commit in a push.
type CommitInfo struct {
	SHA      string
	Message  string
	Author   UserInfo
	URL      string
	Added    []string
	Removed  []string
	Modified []string
}

// PushPayload carries the fields a push event guarantees.
type PushPayload struct {
	Ref     string // e.g. "refs/heads/main"
	Before  string
	After   string
	Compare string
	Pusher  UserInfo
	Commits []CommitInfo
}

// ReleasePayload carries the fields a release event guarantees.
type ReleasePayload struct {
	Action     string
	TagName    string
	Name       string
	Body       string
	Draft      bool
	Prerelease bool
	URL        string
	Author     UserInfo
}

// IssuePayload carries the fields an issue event guarantees.
type IssuePayload struct {
	Action   string // opened, closed, reopened
	Number   int
	Title    string
	State    string
	URL      string
	User     UserInfo
	Labels   []string
	Assignee *UserInfo
}

// BranchInfo identifies one side of a pull request.
type BranchInfo struct {
	Ref string
	SHA string
}

// PullRequestPayload carries the fields a pull request event guarantees.
type PullRequestPayload struct {
	Action    string // opened, closed, reopened
	Number    int
	Title     string
	State     string
	URL       string
	User      UserInfo
	Merged    bool
	MergedBy  *UserInfo
	Base      BranchInfo
	Head      BranchInfo
	Additions int
	Deletions int
	Commits   int
}
