package models

import "time"

// Settings is the singleton row of user preferences. Empty fields fall
// back to configuration defaults.
type Settings struct {
	AIModel     string
	AIProvider  string
	Theme       string
	GitHubToken string // overrides the configured github.token when set
	UpdatedAt   time.Time
}
