// Package errors defines sentinel errors shared across devai.
//
// Callers categorize failures with errors.Is; call sites add context with
// fmt.Errorf("...: %w", err). This package must not import any other
// internal package.
package errors

import "errors"

var (
	// ErrInvalidState indicates a task operation was attempted in a status
	// that does not permit it. No side effects have occurred.
	ErrInvalidState = errors.New("invalid task state")

	// ErrAICallFailed indicates the AI provider call failed or timed out
	// before any response text was produced.
	ErrAICallFailed = errors.New("ai call failed")

	// ErrParseFailure indicates the AI response contained malformed file
	// blocks. Non-fatal: execution completes with the blocks that parsed.
	ErrParseFailure = errors.New("response parse failure")

	// ErrBranchExists indicates the remote branch ref already exists.
	// Non-fatal: the executor retries with a numeric suffix.
	ErrBranchExists = errors.New("branch already exists")

	// ErrBranchCreateExhausted indicates branch creation kept colliding
	// after the bounded number of suffix retries.
	ErrBranchCreateExhausted = errors.New("branch name attempts exhausted")

	// ErrRemote indicates a Git hosting API call failed.
	ErrRemote = errors.New("remote api error")

	// ErrRemoteNotFound indicates the remote repository or ref does not exist.
	ErrRemoteNotFound = errors.New("remote not found")

	// ErrEmptyDiff indicates the head branch has no commits against base.
	// Non-fatal: the execution completed with nothing to review.
	ErrEmptyDiff = errors.New("no diff against base branch")

	// ErrAuth indicates the hosting credential is missing, invalid, or
	// lacks access. Surfaced distinctly so callers can prompt for
	// re-authentication instead of retrying blindly.
	ErrAuth = errors.New("authentication failed")

	// ErrGitHubNotConfigured indicates a GitHub operation was requested but
	// no token is configured.
	ErrGitHubNotConfigured = errors.New("github token not configured")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input to a CRUD operation.
	ErrValidation = errors.New("validation failed")
)

// Is reports whether any error in err's chain matches target. Re-exported
// so callers that import this package do not also need stdlib errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target. Re-exported
// for the same reason as Is.
func As(err error, target any) bool {
	return errors.As(err, target)
}
