package models

import "time"

// PRStatus represents the review state of a pull request.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusMerged PRStatus = "merged"
	PRStatusClosed PRStatus = "closed"
)

// PullRequest is a reviewable bundle of file changes on a branch. For
// github projects it mirrors a real GitHub PR; for upload/manual projects
// it is a local record with no remote fields.
type PullRequest struct {
	ID             string
	ProjectID      string
	TaskID         string
	Title          string
	Description    string
	BranchName     string
	BaseBranch     string
	Status         PRStatus
	FilesChanged   []FileChange // the landed content at creation time
	GitHubPRNumber int          // 0 = local PR
	GitHubPRURL    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
