package github

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxSlugLen bounds the title-derived part of a branch name so the full
// name stays well under hosting ref-length limits.
const maxSlugLen = 40

// slugRegex matches any run of characters that is not a lowercase letter,
// digit, or hyphen.
var slugRegex = regexp.MustCompile(`[^a-z0-9-]+`)

// BranchName derives a branch name from a task title and a timestamp:
// feature/<slug>-<YYYYMMDDHHMM>. The slug is the title lower-cased with
// non-alphanumeric runs collapsed to single hyphens and truncated to
// maxSlugLen. Two executions of the same task collide only within the
// same minute; that case is resolved by BranchNameWithSuffix.
//
// Example: BranchName("Add user authentication", t) where t is
// 2026-01-28 15:30 -> "feature/add-user-authentication-202601281530".
func BranchName(title string, now time.Time) string {
	slug := strings.ToLower(title)
	slug = slugRegex.ReplaceAllString(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return fmt.Sprintf("feature/%s-%s", slug, now.Format("200601021504"))
}

// BranchNameWithSuffix appends a numeric suffix to a branch name for
// collision retries. Suffixes start at 2; the unsuffixed name is the
// first attempt.
func BranchNameWithSuffix(name string, n int) string {
	return fmt.Sprintf("%s-%d", name, n)
}
