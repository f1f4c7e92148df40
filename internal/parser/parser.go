// Package parser extracts file changes from raw AI responses.
//
// Parsing is pure and deterministic: the same input always yields the same
// changes and diagnostics, and malformed input never produces an error, only
// an empty (or partial) result with diagnostics describing what was dropped.
package parser

import (
	"fmt"
	"strings"

	"github.com/devaihq/devai/internal/models"
)

// Parser turns a raw AI response into an ordered list of file changes.
// Implementations must be safe for concurrent use.
type Parser interface {
	// Parse returns the file changes found in raw, in order of appearance,
	// plus a diagnostic line for every block or path that was rejected.
	// A nil/empty change list with non-empty diagnostics means the response
	// was unusable, not that the AI chose to change nothing.
	Parse(raw string) ([]models.FileChange, []string)
}

// FencedParser parses the fenced-block convention the execute prompt asks
// the model to follow:
//
//	```path/to/file.ext
//	content
//	```
//
// The info string of a fence is treated as a file path when it is a single
// token containing a dot or a slash. An optional "create:", "update:" or
// "delete:" prefix selects the action; the default is create. Fences whose
// info string is a language tag (or empty) open ordinary prose blocks that
// are skipped. A block may contain shorter fences verbatim when the outer
// fence uses more backticks, per the usual longer-fence nesting rule.
type FencedParser struct{}

// NewFencedParser returns a parser for the fenced-block response format.
func NewFencedParser() *FencedParser {
	return &FencedParser{}
}

// Parse implements Parser.
func (p *FencedParser) Parse(raw string) ([]models.FileChange, []string) {
	var (
		changes     []models.FileChange
		diagnostics []string
	)

	// Normalize line endings once so fence detection never sees a stray \r.
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	var (
		inBlock    bool
		fenceLen   int
		blockPath  string
		blockOpen  int
		action     models.FileAction
		isFileSpec bool
		content    []string
	)

	for i, line := range lines {
		if !inBlock {
			n, info := openingFence(line)
			if n == 0 {
				continue
			}
			inBlock = true
			fenceLen = n
			blockOpen = i + 1
			content = content[:0]
			action, blockPath, isFileSpec = splitInfoString(info)
			continue
		}

		if closesFence(line, fenceLen) {
			inBlock = false
			if !isFileSpec {
				continue
			}
			change, diag := buildChange(action, blockPath, content)
			if diag != "" {
				diagnostics = append(diagnostics, diag)
				continue
			}
			changes = append(changes, change)
			continue
		}

		content = append(content, line)
	}

	if inBlock && isFileSpec {
		diagnostics = append(diagnostics,
			fmt.Sprintf("unterminated block for %q opened at line %d", blockPath, blockOpen))
	}
	if len(changes) == 0 && len(diagnostics) == 0 {
		diagnostics = append(diagnostics, "no file blocks found in response")
	}

	return changes, diagnostics
}

// openingFence reports the backtick run length and info string of a fence
// opener, or 0 when the line does not open a fence. Up to three leading
// spaces of indentation are tolerated.
func openingFence(line string) (int, string) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, ""
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == '`' {
		n++
	}
	if n < 3 {
		return 0, ""
	}
	info := strings.TrimSpace(trimmed[n:])
	if strings.Contains(info, "`") {
		return 0, ""
	}
	return n, info
}

// closesFence reports whether line closes a block opened with fenceLen
// backticks. A closing fence is backticks only, at least as many as the
// opener, with nothing after them.
func closesFence(line string, fenceLen int) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < fenceLen {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '`' {
			return false
		}
	}
	return true
}

// splitInfoString interprets a fence info string. It returns the action,
// the candidate path, and whether the info string names a file at all.
// Info strings with spaces, or without a dot or slash, are language tags.
func splitInfoString(info string) (models.FileAction, string, bool) {
	action := models.ActionCreate
	switch {
	case strings.HasPrefix(info, "create:"):
		info = strings.TrimSpace(strings.TrimPrefix(info, "create:"))
	case strings.HasPrefix(info, "update:"):
		action = models.ActionUpdate
		info = strings.TrimSpace(strings.TrimPrefix(info, "update:"))
	case strings.HasPrefix(info, "delete:"):
		action = models.ActionDelete
		info = strings.TrimSpace(strings.TrimPrefix(info, "delete:"))
	default:
		if info == "" || strings.ContainsAny(info, " \t") {
			return action, "", false
		}
		if !strings.ContainsAny(info, "./") {
			return action, "", false
		}
		return action, info, true
	}
	if info == "" || strings.ContainsAny(info, " \t") {
		return action, "", false
	}
	return action, info, true
}

// buildChange validates the path and assembles the change. Content lines are
// joined exactly as they appeared; a non-empty body keeps its trailing
// newline so written files end the way source files do.
func buildChange(action models.FileAction, path string, content []string) (models.FileChange, string) {
	if err := models.ValidateFilePath(path); err != nil {
		return models.FileChange{}, fmt.Sprintf("dropped block %q: %v", path, err)
	}
	change := models.FileChange{
		Path:   path,
		Action: action,
	}
	if action != models.ActionDelete && len(content) > 0 {
		change.Content = strings.Join(content, "\n") + "\n"
	}
	return change, ""
}
