// Package render formats normalized events as destination-agnostic markdown.
package render

import (
	"fmt"
	"strings"

	"github.com/user/githubrelay/internal/github"
)

// Builder constructs notification messages.
type Builder struct{}

// NewBuilder creates a new message builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Render formats a normalized event. The output is plain markdown with no
// platform-specific markup; sinks decide how to post it.
func (b *Builder) Render(ev *github.NormalizedEvent) (string, error) {
	header := fmt.Sprintf("🔔 *%s*\n\n", ev.RepoFullName())

	switch p := ev.Payload.(type) {
	case *github.PushPayload:
		return header + b.pushBody(p), nil
	case *github.ReleasePayload:
		return header + b.releaseBody(p), nil
	case *github.IssuePayload:
		return header + b.issueBody(p), nil
	case *github.PullRequestPayload:
		return header + b.pullRequestBody(p), nil
	default:
		return "", fmt.Errorf("no renderer for event kind %q", ev.Kind)
	}
}

func (b *Builder) pushBody(e *github.PushPayload) string {
	branch := extractBranchName(e.Ref)
	commitWord := "commit"
	if len(e.Commits) > 1 {
		commitWord = "commits"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔨 *%s* pushed %d %s to `%s`\n\n",
		escapeMarkdown(e.Pusher.Login), len(e.Commits), commitWord, branch)

	// Show up to 5 commits
	maxCommits := 5
	if len(e.Commits) < maxCommits {
		maxCommits = len(e.Commits)
	}
	for i := 0; i < maxCommits; i++ {
		commit := e.Commits[i]
		fmt.Fprintf(&sb, "• [`%s`](%s) %s\n",
			shortSHA(commit.SHA), commit.URL, escapeMarkdown(truncateString(commit.Message, 50)))
	}
	if len(e.Commits) > maxCommits {
		fmt.Fprintf(&sb, "\n_...and %d more commits_\n", len(e.Commits)-maxCommits)
	}

	if e.Compare != "" {
		fmt.Fprintf(&sb, "\n[Compare changes](%s)", e.Compare)
	}
	return sb.String()
}

func (b *Builder) releaseBody(e *github.ReleasePayload) string {
	emoji := "🎉"
	if e.Prerelease {
		emoji = "🧪"
	}

	name := e.Name
	if name == "" {
		name = e.TagName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *New Release: %s*\n\n", emoji, escapeMarkdown(name))
	fmt.Fprintf(&sb, "📦 Tag: `%s`\n", e.TagName)
	fmt.Fprintf(&sb, "👤 Author: %s\n", escapeMarkdown(e.Author.Login))
	if e.Body != "" {
		fmt.Fprintf(&sb, "\n%s\n", truncateString(e.Body, 300))
	}
	fmt.Fprintf(&sb, "\n[View Release](%s)", e.URL)
	return sb.String()
}

func (b *Builder) issueBody(e *github.IssuePayload) string {
	actionEmoji := map[string]string{
		"opened":   "📝",
		"closed":   "✅",
		"reopened": "🔄",
	}
	emoji := actionEmoji[e.Action]
	if emoji == "" {
		emoji = "📋"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *Issue #%d %s*\n\n", emoji, e.Number, e.Action)
	fmt.Fprintf(&sb, "📌 %s\n", escapeMarkdown(e.Title))
	fmt.Fprintf(&sb, "👤 By: %s\n", escapeMarkdown(e.User.Login))
	if len(e.Labels) > 0 {
		fmt.Fprintf(&sb, "🏷️ Labels: %s\n", escapeMarkdown(strings.Join(e.Labels, ", ")))
	}
	fmt.Fprintf(&sb, "\n[View Issue](%s)", e.URL)
	return sb.String()
}

func (b *Builder) pullRequestBody(e *github.PullRequestPayload) string {
	actionEmoji := map[string]string{
		"opened":   "🔀",
		"closed":   "❌",
		"merged":   "🎊",
		"reopened": "🔄",
	}

	action := e.Action
	if e.Action == "closed" && e.Merged {
		action = "merged"
	}
	emoji := actionEmoji[action]
	if emoji == "" {
		emoji = "🔀"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *PR #%d %s*\n\n", emoji, e.Number, action)
	fmt.Fprintf(&sb, "📌 %s\n", escapeMarkdown(e.Title))
	fmt.Fprintf(&sb, "👤 By: %s\n", escapeMarkdown(e.User.Login))
	fmt.Fprintf(&sb, "🔀 %s → %s\n", escapeMarkdown(e.Head.Ref), escapeMarkdown(e.Base.Ref))
	if e.Commits > 0 {
		fmt.Fprintf(&sb, "📊 %d commits, +%d/-%d lines\n", e.Commits, e.Additions, e.Deletions)
	}
	fmt.Fprintf(&sb, "\n[View PR](%s)", e.URL)
	return sb.String()
}

// Helper functions

func extractBranchName(ref string) string {
	// refs/heads/main -> main
	if strings.HasPrefix(ref, "refs/heads/") {
		return ref[len("refs/heads/"):]
	}
	return ref
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// escapeMarkdown escapes special Markdown characters to prevent parsing errors.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
