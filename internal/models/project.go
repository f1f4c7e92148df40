package models

import "time"

// SourceType describes where a project's code lives.
type SourceType string

const (
	SourceTypeGitHub SourceType = "github"
	SourceTypeUpload SourceType = "upload"
	SourceTypeManual SourceType = "manual"
)

// ProjectStatus represents the analysis lifecycle of a project.
type ProjectStatus string

const (
	ProjectStatusCreated   ProjectStatus = "created"
	ProjectStatusAnalyzing ProjectStatus = "analyzing"
	ProjectStatusReady     ProjectStatus = "ready"
	ProjectStatusError     ProjectStatus = "error"
)

// Project represents a codebase under management.
type Project struct {
	ID            string
	Name          string
	Description   string
	SourceType    SourceType
	GitHubOwner   string // set only for SourceTypeGitHub
	GitHubRepo    string // set only for SourceTypeGitHub
	DefaultBranch string // base branch for commits, e.g. "main"
	TechStack     []string
	Summary       string // AI-generated project summary
	Status        ProjectStatus
	FileCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProjectFile is one stored file of an upload/manual project.
// GitHub projects keep their files remote; this store is not used for them.
type ProjectFile struct {
	ProjectID string
	Path      string
	Content   string
	Size      int
	UpdatedAt time.Time
}
