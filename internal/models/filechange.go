package models

import (
	"fmt"
	"strings"

	"github.com/devaihq/devai/internal/errors"
)

// FileAction describes what a FileChange does to its path.
type FileAction string

const (
	ActionCreate FileAction = "create"
	ActionUpdate FileAction = "update"
	ActionDelete FileAction = "delete"
)

// FileChange is a single file's intended create/update/delete with full
// content. Immutable once produced for an execution attempt. Serialized as
// JSON inline with its parent task or pull request.
type FileChange struct {
	Path    string     `json:"path"`
	Content string     `json:"content"`
	Action  FileAction `json:"action"`
}

// ValidateFilePath enforces the FileChange path invariant: non-empty,
// forward-slash separators, relative, and no ".." segment. Violations are
// rejected, never normalized away.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", errors.ErrValidation)
	}
	if strings.ContainsRune(path, '\\') {
		return fmt.Errorf("%w: path %q must use forward slashes", errors.ErrValidation, path)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: path %q must be relative", errors.ErrValidation, path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: path %q contains a parent segment", errors.ErrValidation, path)
		}
	}
	return nil
}
