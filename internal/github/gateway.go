// Package github talks to the GitHub REST API for branch, commit, and
// pull-request operations. Commits are built through the Git Data API
// (blobs, trees, commit objects, ref update) so a multi-file change lands
// as exactly one commit or not at all.
package github

import (
	"context"

	"github.com/devaihq/devai/internal/models"
)

// PullRequestRef identifies a pull request created on the remote.
type PullRequestRef struct {
	Number int
	URL    string
}

// RepoInfo holds the repository metadata devai mirrors locally.
type RepoInfo struct {
	DefaultBranch string
	Description   string
	Language      string
}

// TreeEntry is one entry from a recursive repository tree listing.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree"
	SHA  string
	Size int64
}

// Gateway is the capability surface devai needs from a Git hosting
// provider. The REST Client is the only implementation; tests substitute
// fakes.
type Gateway interface {
	// ResolveHeadSHA returns the commit SHA a branch currently points at.
	// Returns ErrRemoteNotFound when the repo or branch does not exist and
	// ErrAuth when the credential is rejected.
	ResolveHeadSHA(ctx context.Context, owner, repo, branch string) (string, error)

	// CreateBranch creates refs/heads/<branch> at fromSHA. Returns
	// ErrBranchExists when the ref is already present.
	CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error

	// CommitFiles lands all files as a single commit on branch and returns
	// the new commit SHA. Either every file is in the commit or the branch
	// is left exactly where it was; callers can confirm with
	// ResolveHeadSHA after a transient failure before retrying.
	CommitFiles(ctx context.Context, owner, repo, branch string, files []models.FileChange, message string) (string, error)

	// OpenPullRequest opens a PR from head into base. Returns ErrEmptyDiff
	// when the remote reports no commits between the two branches.
	OpenPullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequestRef, error)

	// MergePullRequest squash-merges a pull request by number.
	MergePullRequest(ctx context.Context, owner, repo string, number int) error

	// ClosePullRequest closes a pull request without merging.
	ClosePullRequest(ctx context.Context, owner, repo string, number int) error

	// GetRepo fetches repository metadata.
	GetRepo(ctx context.Context, owner, repo string) (*RepoInfo, error)

	// ListTree lists the full tree at a ref (branch name or commit SHA),
	// recursively.
	ListTree(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error)

	// GetBlob fetches raw blob content by SHA.
	GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error)
}
