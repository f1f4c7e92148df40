// Package techstack infers a project's technology tags from its file
// paths and decides which uploaded files are worth storing.
package techstack

import (
	"sort"
	"strings"
)

// Upload limits. Files at or over MaxFileSize are skipped entirely;
// stored content is cut at MaxContentLen.
const (
	MaxFileSize   = 100_000
	MaxContentLen = 50_000
)

// skippedExtensions are binary or asset formats that carry no signal for
// analysis and bloat the file store.
var skippedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg",
	".woff", ".woff2", ".ttf", ".eot",
}

// Detect returns the technology tags implied by the given file paths,
// sorted alphabetically. Unknown extensions contribute nothing.
func Detect(paths []string) []string {
	tags := map[string]bool{}
	for _, path := range paths {
		lower := strings.ToLower(path)
		if strings.HasSuffix(lower, ".php") || strings.Contains(lower, "laravel") {
			tags["Laravel"] = true
			tags["PHP"] = true
		}
		if strings.HasSuffix(lower, ".vue") {
			tags["Vue.js"] = true
		}
		if strings.HasSuffix(lower, ".dart") || strings.Contains(lower, "flutter") {
			tags["Flutter"] = true
			tags["Dart"] = true
		}
		if strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".jsx") {
			tags["JavaScript"] = true
		}
		if strings.HasSuffix(lower, ".ts") || strings.HasSuffix(lower, ".tsx") {
			tags["TypeScript"] = true
		}
		if strings.HasSuffix(lower, ".py") {
			tags["Python"] = true
		}
		if strings.HasSuffix(lower, ".go") || lower == "go.mod" || strings.HasSuffix(lower, "/go.mod") {
			tags["Go"] = true
		}
	}
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// SkipPath reports whether an uploaded path should not be stored: any
// dotted path segment (hidden files, .git internals) or a known asset
// extension.
func SkipPath(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	lower := strings.ToLower(path)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
