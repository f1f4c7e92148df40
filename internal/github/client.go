package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/models"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	userAgent      = "devai"

	// fileMode is the blob mode for every committed file. devai never
	// commits executables or symlinks.
	fileMode = "100644"
)

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-2xx GitHub response that did not map onto a more
// specific sentinel. It matches errors.ErrRemote via errors.Is; callers
// inspect StatusCode for endpoint-specific handling.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return errors.ErrRemote }

// Client implements Gateway against the GitHub REST API.
type Client struct {
	httpClient HTTPClient
	baseURL    string
	token      string
}

// NewClient creates a GitHub client authenticating with token. Per-call
// deadlines come from the caller's context; the underlying client timeout
// is only a backstop.
func NewClient(token string) *Client {
	return NewClientWithHTTP(token, defaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTP creates a client with a custom base URL and HTTP
// client. This is used for testing.
func NewClientWithHTTP(token, baseURL string, httpClient HTTPClient) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// doJSON issues a request with a JSON body (nil for none) and decodes a
// 2xx response into out (nil to discard). 401/403 map to ErrAuth and 404
// to ErrRemoteNotFound; any other non-2xx status is returned as a
// *StatusError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", errors.ErrRemote, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response for %s %s: %v", errors.ErrRemote, method, path, err)
		}
		return nil
	}

	msg := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", errors.ErrAuth, resp.StatusCode, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", errors.ErrRemoteNotFound, path, msg)
	default:
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// readErrorMessage extracts the message (and any nested error details)
// from a GitHub error body, falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var ghErr struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(raw, &ghErr) != nil || ghErr.Message == "" {
		return string(raw)
	}
	parts := []string{ghErr.Message}
	for _, e := range ghErr.Errors {
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// ResolveHeadSHA implements Gateway.
func (c *Client) ResolveHeadSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, branch)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// CreateBranch implements Gateway.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, fromSHA string) error {
	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": fromSHA,
	}
	path := fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo)
	err := c.doJSON(ctx, http.MethodPost, path, body, nil)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %s", errors.ErrBranchExists, branch)
	}
	return err
}

// treeEntryParam is one entry in a tree-creation request. A nil SHA
// serializes as JSON null, which deletes the path from the tree.
type treeEntryParam struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

// CommitFiles implements Gateway. The sequence is the standard Git Data
// dance: resolve the branch head, upload one blob per file, build a tree
// on top of the head commit's tree, create a commit, then advance the
// ref. Nothing is visible to other readers until the final ref update,
// so a failure at any earlier step leaves the branch untouched.
func (c *Client) CommitFiles(ctx context.Context, owner, repo, branch string, files []models.FileChange, message string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%w: no files to commit", errors.ErrValidation)
	}

	headSHA, err := c.ResolveHeadSHA(ctx, owner, repo, branch)
	if err != nil {
		return "", fmt.Errorf("resolve head of %s: %w", branch, err)
	}

	var head struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	commitPath := fmt.Sprintf("/repos/%s/%s/git/commits/%s", owner, repo, headSHA)
	if err := c.doJSON(ctx, http.MethodGet, commitPath, nil, &head); err != nil {
		return "", fmt.Errorf("load head commit %s: %w", headSHA, err)
	}

	entries := make([]treeEntryParam, 0, len(files))
	for _, f := range files {
		entry := treeEntryParam{Path: f.Path, Mode: fileMode, Type: "blob"}
		if f.Action != models.ActionDelete {
			blobSHA, err := c.createBlob(ctx, owner, repo, f.Content)
			if err != nil {
				return "", fmt.Errorf("upload blob for %s: %w", f.Path, err)
			}
			entry.SHA = &blobSHA
		}
		entries = append(entries, entry)
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	treeBody := map[string]any{
		"base_tree": head.Tree.SHA,
		"tree":      entries,
	}
	treePath := fmt.Sprintf("/repos/%s/%s/git/trees", owner, repo)
	if err := c.doJSON(ctx, http.MethodPost, treePath, treeBody, &tree); err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitBody := map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{headSHA},
	}
	createPath := fmt.Sprintf("/repos/%s/%s/git/commits", owner, repo)
	if err := c.doJSON(ctx, http.MethodPost, createPath, commitBody, &commit); err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	refBody := map[string]any{
		"sha":   commit.SHA,
		"force": false,
	}
	refPath := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, branch)
	if err := c.doJSON(ctx, http.MethodPatch, refPath, refBody, nil); err != nil {
		return "", fmt.Errorf("advance %s to %s: %w", branch, commit.SHA, err)
	}

	return commit.SHA, nil
}

// createBlob uploads file content as a base64 blob and returns its SHA.
func (c *Client) createBlob(ctx context.Context, owner, repo, content string) (string, error) {
	var blob struct {
		SHA string `json:"sha"`
	}
	body := map[string]string{
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		"encoding": "base64",
	}
	path := fmt.Sprintf("/repos/%s/%s/git/blobs", owner, repo)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &blob); err != nil {
		return "", err
	}
	return blob.SHA, nil
}

// OpenPullRequest implements Gateway.
func (c *Client) OpenPullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequestRef, error) {
	var pr struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	reqBody := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	err := c.doJSON(ctx, http.MethodPost, path, reqBody, &pr)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(se.Message, "No commits between") {
		return nil, fmt.Errorf("%w: %s into %s", errors.ErrEmptyDiff, head, base)
	}
	if err != nil {
		return nil, err
	}
	return &PullRequestRef{Number: pr.Number, URL: pr.HTMLURL}, nil
}

// MergePullRequest implements Gateway. Merges are always squashed so one
// task lands as one commit on the base branch.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int) error {
	body := map[string]string{
		"merge_method": "squash",
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}

// ClosePullRequest implements Gateway.
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int) error {
	body := map[string]string{
		"state": "closed",
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	return c.doJSON(ctx, http.MethodPatch, path, body, nil)
}

// GetRepo implements Gateway.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*RepoInfo, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
		Description   string `json:"description"`
		Language      string `json:"language"`
	}
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &RepoInfo{
		DefaultBranch: out.DefaultBranch,
		Description:   out.Description,
		Language:      out.Language,
	}, nil
}

// ListTree implements Gateway.
func (c *Client) ListTree(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error) {
	var out struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			SHA  string `json:"sha"`
			Size int64  `json:"size"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, ref)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	entries := make([]TreeEntry, 0, len(out.Tree))
	for _, e := range out.Tree {
		entries = append(entries, TreeEntry{Path: e.Path, Type: e.Type, SHA: e.SHA, Size: e.Size})
	}
	return entries, nil
}

// GetBlob implements Gateway.
func (c *Client) GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/blobs/%s", owner, repo, sha)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Encoding != "base64" {
		return []byte(out.Content), nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: decode blob %s: %v", errors.ErrRemote, sha, err)
	}
	return raw, nil
}
