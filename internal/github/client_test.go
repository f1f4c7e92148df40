package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/models"
)

const testToken = "test-token"

// fakeGitHub is an in-memory Git Data API backend. It stores refs,
// commits, trees, and blobs the way the real API does so the client can
// be exercised end to end, including the failure mode where the final
// ref update is rejected.
type fakeGitHub struct {
	mu sync.Mutex

	refs    map[string]string
	commits map[string]fakeCommit
	trees   map[string]map[string]string // tree sha -> path -> blob sha
	blobs   map[string]string            // blob sha -> content
	pulls   map[int]*fakePull

	nextSeq       int
	commitCount   int
	nextPR        int
	failRefUpdate bool
}

type fakeCommit struct {
	Message string
	TreeSHA string
	Parents []string
}

type fakePull struct {
	Title  string
	Body   string
	Head   string
	Base   string
	State  string
	Merged bool
}

func newFakeGitHub() *fakeGitHub {
	f := &fakeGitHub{
		refs:    map[string]string{},
		commits: map[string]fakeCommit{},
		trees:   map[string]map[string]string{},
		blobs:   map[string]string{},
		pulls:   map[int]*fakePull{},
		nextPR:  1,
	}
	blobSHA := f.sha("blob")
	f.blobs[blobSHA] = "# seed\n"
	treeSHA := f.sha("tree")
	f.trees[treeSHA] = map[string]string{"README.md": blobSHA}
	commitSHA := f.sha("commit")
	f.commits[commitSHA] = fakeCommit{Message: "seed", TreeSHA: treeSHA}
	f.refs["main"] = commitSHA
	return f
}

func (f *fakeGitHub) sha(prefix string) string {
	f.nextSeq++
	return fmt.Sprintf("%s%04d", prefix, f.nextSeq)
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.getRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/heads/{branch...}", f.getRef)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", f.createRef)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/git/refs/heads/{branch...}", f.updateRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/commits/{sha}", f.getCommit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/commits", f.createCommit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/blobs", f.createBlob)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/blobs/{sha}", f.getBlob)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/trees", f.createTree)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/trees/{ref...}", f.getTree)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", f.createPull)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/pulls/{number}/merge", f.mergePull)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/pulls/{number}", f.updatePull)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			ghError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func ghJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ghError(w http.ResponseWriter, status int, message string, details ...string) {
	body := map[string]any{"message": message}
	if len(details) > 0 {
		var errs []map[string]string
		for _, d := range details {
			errs = append(errs, map[string]string{"message": d})
		}
		body["errors"] = errs
	}
	ghJSON(w, status, body)
}

func (f *fakeGitHub) getRepo(w http.ResponseWriter, r *http.Request) {
	ghJSON(w, http.StatusOK, map[string]any{
		"default_branch": "main",
		"description":    "fixture repository",
		"language":       "Go",
	})
}

func (f *fakeGitHub) getRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	branch := r.PathValue("branch")
	sha, ok := f.refs[branch]
	if !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	ghJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": sha, "type": "commit"},
	})
}

func (f *fakeGitHub) createRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	branch := strings.TrimPrefix(body.Ref, "refs/heads/")
	if _, exists := f.refs[branch]; exists {
		ghError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	if _, ok := f.commits[body.SHA]; !ok {
		ghError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	f.refs[branch] = body.SHA
	ghJSON(w, http.StatusCreated, map[string]any{"ref": body.Ref})
}

func (f *fakeGitHub) updateRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefUpdate {
		ghError(w, http.StatusInternalServerError, "ref update rejected")
		return
	}
	branch := r.PathValue("branch")
	if _, ok := f.refs[branch]; !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	var body struct {
		SHA string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.refs[branch] = body.SHA
	ghJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + branch})
}

func (f *fakeGitHub) getCommit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commits[r.PathValue("sha")]
	if !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	ghJSON(w, http.StatusOK, map[string]any{
		"sha":  r.PathValue("sha"),
		"tree": map[string]string{"sha": c.TreeSHA},
	})
}

func (f *fakeGitHub) createCommit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if _, ok := f.trees[body.Tree]; !ok {
		ghError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	sha := f.sha("commit")
	f.commits[sha] = fakeCommit{Message: body.Message, TreeSHA: body.Tree, Parents: body.Parents}
	f.commitCount++
	ghJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (f *fakeGitHub) createBlob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	content := body.Content
	if body.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			ghError(w, http.StatusUnprocessableEntity, "content is not valid base64")
			return
		}
		content = string(raw)
	}
	sha := f.sha("blob")
	f.blobs[sha] = content
	ghJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (f *fakeGitHub) getBlob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.blobs[r.PathValue("sha")]
	if !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	ghJSON(w, http.StatusOK, map[string]any{
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		"encoding": "base64",
	})
}

func (f *fakeGitHub) createTree(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string  `json:"path"`
			Mode string  `json:"mode"`
			Type string  `json:"type"`
			SHA  *string `json:"sha"`
		} `json:"tree"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	merged := map[string]string{}
	if base, ok := f.trees[body.BaseTree]; ok {
		for p, s := range base {
			merged[p] = s
		}
	}
	for _, e := range body.Tree {
		if e.SHA == nil {
			delete(merged, e.Path)
			continue
		}
		if _, ok := f.blobs[*e.SHA]; !ok {
			ghError(w, http.StatusUnprocessableEntity, "Blob SHA does not exist")
			return
		}
		merged[e.Path] = *e.SHA
	}
	sha := f.sha("tree")
	f.trees[sha] = merged
	ghJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (f *fakeGitHub) getTree(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := r.PathValue("ref")
	treeSHA := ref
	if commitSHA, ok := f.refs[ref]; ok {
		treeSHA = f.commits[commitSHA].TreeSHA
	}
	tree, ok := f.trees[treeSHA]
	if !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, map[string]any{
			"path": p,
			"type": "blob",
			"sha":  tree[p],
			"size": int64(len(f.blobs[tree[p]])),
		})
	}
	ghJSON(w, http.StatusOK, map[string]any{"tree": entries, "truncated": false})
}

func (f *fakeGitHub) createPull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Head  string `json:"head"`
		Base  string `json:"base"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if f.refs[body.Head] == f.refs[body.Base] {
		ghError(w, http.StatusUnprocessableEntity, "Validation Failed",
			fmt.Sprintf("No commits between %s and %s", body.Base, body.Head))
		return
	}
	num := f.nextPR
	f.nextPR++
	f.pulls[num] = &fakePull{
		Title: body.Title, Body: body.Body,
		Head: body.Head, Base: body.Base, State: "open",
	}
	ghJSON(w, http.StatusCreated, map[string]any{
		"number":   num,
		"html_url": fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.PathValue("owner"), r.PathValue("repo"), num),
	})
}

func (f *fakeGitHub) mergePull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.pulls[atoiOrZero(r.PathValue("number"))]
	if !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	if pr.State != "open" {
		ghError(w, http.StatusMethodNotAllowed, "Pull Request is not mergeable")
		return
	}
	pr.Merged = true
	pr.State = "closed"
	ghJSON(w, http.StatusOK, map[string]any{"merged": true})
}

func (f *fakeGitHub) updatePull(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.pulls[atoiOrZero(r.PathValue("number"))]
	if !ok {
		ghError(w, http.StatusNotFound, "Not Found")
		return
	}
	var body struct {
		State string `json:"state"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.State != "" {
		pr.State = body.State
	}
	ghJSON(w, http.StatusOK, map[string]any{"number": r.PathValue("number")})
}

func atoiOrZero(s string) int {
	n := 0
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func newTestClient(t *testing.T) (*Client, *fakeGitHub) {
	t.Helper()
	fake := newFakeGitHub()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewClientWithHTTP(testToken, srv.URL, srv.Client()), fake
}

func TestResolveHeadSHA(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	t.Run("existing branch", func(t *testing.T) {
		sha, err := client.ResolveHeadSHA(ctx, "acme", "app", "main")
		require.NoError(t, err)
		assert.Equal(t, fake.refs["main"], sha)
	})

	t.Run("missing branch", func(t *testing.T) {
		_, err := client.ResolveHeadSHA(ctx, "acme", "app", "nope")
		assert.ErrorIs(t, err, errors.ErrRemoteNotFound)
	})

	t.Run("bad credentials", func(t *testing.T) {
		fake := newFakeGitHub()
		srv := httptest.NewServer(fake.handler())
		t.Cleanup(srv.Close)
		bad := NewClientWithHTTP("wrong-token", srv.URL, srv.Client())

		_, err := bad.ResolveHeadSHA(ctx, "acme", "app", "main")
		assert.ErrorIs(t, err, errors.ErrAuth)
	})
}

func TestCreateBranch(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	head := fake.refs["main"]
	require.NoError(t, client.CreateBranch(ctx, "acme", "app", "feature/x-202601281530", head))
	assert.Equal(t, head, fake.refs["feature/x-202601281530"])

	err := client.CreateBranch(ctx, "acme", "app", "feature/x-202601281530", head)
	assert.ErrorIs(t, err, errors.ErrBranchExists)
}

func TestCommitFiles(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	head := fake.refs["main"]
	branch := "feature/add-logging-202601281530"
	require.NoError(t, client.CreateBranch(ctx, "acme", "app", branch, head))

	files := []models.FileChange{
		{Path: "app/Logger.php", Content: "<?php class Logger {}\n", Action: models.ActionCreate},
		{Path: "README.md", Content: "# updated\n", Action: models.ActionUpdate},
		{Path: "legacy/old.php", Action: models.ActionDelete},
	}
	sha, err := client.CommitFiles(ctx, "acme", "app", branch, files, "Add logging")
	require.NoError(t, err)

	t.Run("branch advanced to the new commit", func(t *testing.T) {
		assert.Equal(t, sha, fake.refs[branch])
		assert.NotEqual(t, head, fake.refs[branch])
	})

	t.Run("exactly one commit with the old head as parent", func(t *testing.T) {
		assert.Equal(t, 1, fake.commitCount)
		commit := fake.commits[sha]
		assert.Equal(t, "Add logging", commit.Message)
		assert.Equal(t, []string{head}, commit.Parents)
	})

	t.Run("tree holds every file in the list", func(t *testing.T) {
		tree := fake.trees[fake.commits[sha].TreeSHA]
		assert.Contains(t, tree, "app/Logger.php")
		assert.Contains(t, tree, "README.md")
		assert.Equal(t, "<?php class Logger {}\n", fake.blobs[tree["app/Logger.php"]])
		assert.Equal(t, "# updated\n", fake.blobs[tree["README.md"]])
		assert.NotContains(t, tree, "legacy/old.php")
	})

	t.Run("main is untouched", func(t *testing.T) {
		assert.Equal(t, head, fake.refs["main"])
	})
}

func TestCommitFilesRefUpdateFails(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	head := fake.refs["main"]
	branch := "feature/doomed-202601281530"
	require.NoError(t, client.CreateBranch(ctx, "acme", "app", branch, head))

	fake.failRefUpdate = true
	files := []models.FileChange{
		{Path: "a.txt", Content: "a\n", Action: models.ActionCreate},
		{Path: "b.txt", Content: "b\n", Action: models.ActionCreate},
	}
	_, err := client.CommitFiles(ctx, "acme", "app", branch, files, "doomed")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRemote)

	// The commit object may exist server-side, but the branch never moved,
	// so no reader can observe a partial result.
	assert.Equal(t, head, fake.refs[branch])

	fake.failRefUpdate = false
	resolved, err := client.ResolveHeadSHA(ctx, "acme", "app", branch)
	require.NoError(t, err)
	assert.Equal(t, head, resolved)
}

func TestCommitFilesEmptyList(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.CommitFiles(context.Background(), "acme", "app", "main", nil, "empty")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestOpenPullRequest(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	head := fake.refs["main"]
	branch := "feature/add-logging-202601281530"
	require.NoError(t, client.CreateBranch(ctx, "acme", "app", branch, head))

	t.Run("no commits between branches", func(t *testing.T) {
		_, err := client.OpenPullRequest(ctx, "acme", "app", branch, "main", "Add logging", "")
		assert.ErrorIs(t, err, errors.ErrEmptyDiff)
	})

	files := []models.FileChange{{Path: "app/Logger.php", Content: "<?php\n", Action: models.ActionCreate}}
	_, err := client.CommitFiles(ctx, "acme", "app", branch, files, "Add logging")
	require.NoError(t, err)

	t.Run("opens after a real commit", func(t *testing.T) {
		ref, err := client.OpenPullRequest(ctx, "acme", "app", branch, "main", "Add logging", "Adds a logger.")
		require.NoError(t, err)
		assert.Equal(t, 1, ref.Number)
		assert.Contains(t, ref.URL, "/pull/1")

		pr := fake.pulls[1]
		require.NotNil(t, pr)
		assert.Equal(t, branch, pr.Head)
		assert.Equal(t, "main", pr.Base)
		assert.Equal(t, "open", pr.State)
	})
}

func TestMergeAndClosePullRequest(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	head := fake.refs["main"]
	for i, branch := range []string{"feature/one-202601281530", "feature/two-202601281530"} {
		require.NoError(t, client.CreateBranch(ctx, "acme", "app", branch, head))
		files := []models.FileChange{{Path: fmt.Sprintf("f%d.txt", i), Content: "x\n", Action: models.ActionCreate}}
		_, err := client.CommitFiles(ctx, "acme", "app", branch, files, "change")
		require.NoError(t, err)
		_, err = client.OpenPullRequest(ctx, "acme", "app", branch, "main", "change", "")
		require.NoError(t, err)
	}

	require.NoError(t, client.MergePullRequest(ctx, "acme", "app", 1))
	assert.True(t, fake.pulls[1].Merged)
	assert.Equal(t, "closed", fake.pulls[1].State)

	require.NoError(t, client.ClosePullRequest(ctx, "acme", "app", 2))
	assert.False(t, fake.pulls[2].Merged)
	assert.Equal(t, "closed", fake.pulls[2].State)

	err := client.MergePullRequest(ctx, "acme", "app", 99)
	assert.ErrorIs(t, err, errors.ErrRemoteNotFound)
}

func TestGetRepo(t *testing.T) {
	client, _ := newTestClient(t)

	info, err := client.GetRepo(context.Background(), "acme", "app")
	require.NoError(t, err)
	assert.Equal(t, "main", info.DefaultBranch)
	assert.Equal(t, "fixture repository", info.Description)
	assert.Equal(t, "Go", info.Language)
}

func TestListTreeAndGetBlob(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	entries, err := client.ListTree(ctx, "acme", "app", "main")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README.md", entries[0].Path)
	assert.Equal(t, "blob", entries[0].Type)

	content, err := client.GetBlob(ctx, "acme", "app", entries[0].SHA)
	require.NoError(t, err)
	assert.Equal(t, "# seed\n", string(content))
}
