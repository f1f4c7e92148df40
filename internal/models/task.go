package models

import "time"

// TaskStatus represents the execution state of a task.
//
// Transitions: pending -> in_progress -> completed or failed;
// failed -> in_progress on explicit retry. completed is terminal.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Task is a unit of requested AI-driven code change.
type Task struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	Priority     TaskPriority
	Status       TaskStatus
	AIResponse   string // raw AI output text from the last execution
	FilesChanged []FileChange
	BranchName   string // branch created by the last github execution
	PRID         string // set iff a PullRequest references this task
	Diagnostic   string // failure code and message from the last execution
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
