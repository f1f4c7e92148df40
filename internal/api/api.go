// Package api implements the devai REST surface: project, task, and
// pull-request management plus the execution and dashboard endpoints the
// web UI is built on.
package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/executor"
	"github.com/devaihq/devai/internal/github"
	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/refresh"
	"github.com/devaihq/devai/internal/stats"
	"github.com/devaihq/devai/internal/store"
	"github.com/devaihq/devai/internal/techstack"
)

// maxUploadBytes caps a project ZIP upload.
const maxUploadBytes = 64 << 20

// Server provides the REST API handlers.
type Server struct {
	store      store.Store
	exec       *executor.Executor // nil when no AI key is configured
	gw         github.Gateway     // nil when no GitHub token is configured
	stats      *stats.Collector
	gitTimeout time.Duration
}

// NewServer creates an API server. exec and gw may be nil when the
// matching credential is not configured; endpoints that need them then
// answer 503. Credentials are resolved at process start, so a token saved
// through the settings endpoint is picked up on the next start.
func NewServer(st store.Store, exec *executor.Executor, gw github.Gateway, gitTimeout time.Duration) *Server {
	if gitTimeout <= 0 {
		gitTimeout = 8 * time.Second
	}
	return &Server{
		store:      st,
		exec:       exec,
		gw:         gw,
		stats:      stats.NewCollector(st),
		gitTimeout: gitTimeout,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("POST /api/v1/projects/import", s.importProject)
	mux.HandleFunc("POST /api/v1/projects/upload", s.uploadProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("PUT /api/v1/projects/{id}", s.updateProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.deleteProject)
	mux.HandleFunc("POST /api/v1/projects/{id}/analyze", s.analyzeProject)
	mux.HandleFunc("POST /api/v1/projects/{id}/sync", s.syncProject)
	mux.HandleFunc("GET /api/v1/projects/{id}/files", s.listProjectFiles)
	mux.HandleFunc("PUT /api/v1/projects/{id}/files", s.upsertProjectFile)
	mux.HandleFunc("DELETE /api/v1/projects/{id}/files", s.deleteProjectFile)

	mux.HandleFunc("GET /api/v1/projects/{id}/tasks", s.listProjectTasks)
	mux.HandleFunc("POST /api/v1/projects/{id}/tasks", s.createTask)
	mux.HandleFunc("GET /api/v1/tasks", s.listTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/execute", s.executeTask)

	mux.HandleFunc("GET /api/v1/projects/{id}/prs", s.listProjectPRs)
	mux.HandleFunc("GET /api/v1/prs", s.listPRs)
	mux.HandleFunc("GET /api/v1/prs/{id}", s.getPR)
	mux.HandleFunc("POST /api/v1/prs/{id}/merge", s.mergePR)
	mux.HandleFunc("POST /api/v1/prs/{id}/close", s.closePR)

	mux.HandleFunc("GET /api/v1/dashboard/stats", s.dashboardStats)
	mux.HandleFunc("GET /api/v1/dashboard/recent", s.dashboardRecent)

	mux.HandleFunc("GET /api/v1/settings", s.getSettings)
	mux.HandleFunc("PUT /api/v1/settings", s.updateSettings)

	return requestIDMiddleware(corsMiddleware(mux))
}

// requestIDMiddleware tags every response with an X-Request-ID so client
// reports can be matched to server logs. An inbound ID is passed through.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the error envelope: {"error": {"code": ..., "message": ...}}.
// Codes are stable; clients match on them, not on messages.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// writeFailure maps a sentinel error chain to an HTTP status and code.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errors.ErrRemoteNotFound):
		writeError(w, http.StatusNotFound, "remote_not_found", err.Error())
	case errors.Is(err, errors.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, errors.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, errors.ErrGitHubNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "github_not_configured", err.Error())
	case errors.Is(err, errors.ErrAICallFailed):
		writeError(w, http.StatusBadGateway, "ai_call_failed", err.Error())
	case errors.Is(err, errors.ErrAuth):
		writeError(w, http.StatusBadGateway, "auth_failure", err.Error())
	case errors.Is(err, errors.ErrRemote):
		writeError(w, http.StatusBadGateway, "remote_error", err.Error())
	default:
		slog.Error("unhandled API error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// patchString applies a string value from a JSON patch map to the target
// if the key is present and non-empty. Empty strings are treated as "not
// provided" to avoid wiping existing data.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		TechStack   []string `json:"tech_stack"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "name is required")
		return
	}

	p := &models.Project{
		Name:        req.Name,
		Description: req.Description,
		SourceType:  models.SourceTypeManual,
		TechStack:   req.TechStack,
		Status:      models.ProjectStatusCreated,
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) importProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}
	if req.Owner == "" || req.Repo == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "owner and repo are required")
		return
	}
	if s.gw == nil {
		writeError(w, http.StatusServiceUnavailable, "github_not_configured", "no GitHub token configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.gitTimeout)
	info, err := s.gw.GetRepo(ctx, req.Owner, req.Repo)
	cancel()
	if err != nil {
		writeFailure(w, err)
		return
	}

	name := req.Name
	if name == "" {
		name = req.Repo
	}
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	p := &models.Project{
		Name:          name,
		Description:   info.Description,
		SourceType:    models.SourceTypeGitHub,
		GitHubOwner:   req.Owner,
		GitHubRepo:    req.Repo,
		DefaultBranch: branch,
		Status:        models.ProjectStatusCreated,
	}
	if info.Language != "" {
		p.TechStack = []string{info.Language}
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeFailure(w, err)
		return
	}

	// Tree-derived fields (file count, full tech stack) are best effort;
	// the import already validated the repository.
	_, _ = refresh.Project(r.Context(), s.store, p, s.gw, s.gitTimeout)

	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) uploadProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "upload too large or malformed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "read upload: "+err.Error())
		return
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "file must be a ZIP archive")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, ".zip")
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "name is required")
		return
	}

	type zipFile struct {
		path    string
		content string
		size    int
	}
	var files []zipFile
	var paths []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		path := zf.Name
		if strings.HasPrefix(path, "__MACOSX/") || techstack.SkipPath(path) {
			continue
		}
		if models.ValidateFilePath(path) != nil {
			continue
		}
		if zf.UncompressedSize64 >= techstack.MaxFileSize {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, techstack.MaxContentLen))
		rc.Close()
		if err != nil {
			continue
		}
		files = append(files, zipFile{path: path, content: string(content), size: int(zf.UncompressedSize64)})
		paths = append(paths, path)
	}

	p := &models.Project{
		Name:        name,
		Description: r.FormValue("description"),
		SourceType:  models.SourceTypeUpload,
		TechStack:   techstack.Detect(paths),
		Status:      models.ProjectStatusCreated,
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeFailure(w, err)
		return
	}
	for _, f := range files {
		pf := &models.ProjectFile{ProjectID: p.ID, Path: f.path, Content: f.content, Size: f.size}
		if err := s.store.UpsertProjectFile(r.Context(), pf); err != nil {
			writeFailure(w, err)
			return
		}
	}

	if fresh, err := s.store.GetProject(r.Context(), p.ID); err == nil {
		p = fresh
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}

	patchString(patch, "Name", &existing.Name)
	patchString(patch, "Description", &existing.Description)
	patchString(patch, "DefaultBranch", &existing.DefaultBranch)
	if v, ok := patch["TechStack"].([]any); ok {
		var stack []string
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				stack = append(stack, str)
			}
		}
		existing.TechStack = stack
	}

	if err := s.store.UpdateProject(r.Context(), existing); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analyzeProject(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		writeError(w, http.StatusServiceUnavailable, "ai_not_configured", "AI not configured (set ANTHROPIC_API_KEY)")
		return
	}
	project, err := s.exec.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) syncProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	changed, err := refresh.Project(r.Context(), s.store, project, s.gw, s.gitTimeout)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"project": project,
	})
}

// --- Project files ---

type fileInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type fileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

// listProjectFiles serves stored files for upload/manual projects and the
// remote tree for GitHub projects. With ?path= it returns one file's
// content instead of the listing.
func (s *Server) listProjectFiles(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	path := r.URL.Query().Get("path")

	if project.SourceType == models.SourceTypeGitHub {
		s.listRemoteFiles(w, r, project, path)
		return
	}

	if path != "" {
		f, err := s.store.GetProjectFile(r.Context(), project.ID, path)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fileContent{Path: f.Path, Content: f.Content, Size: int64(f.Size)})
		return
	}

	files, err := s.store.ListProjectFiles(r.Context(), project.ID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	infos := make([]fileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, fileInfo{Path: f.Path, Size: int64(f.Size)})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) listRemoteFiles(w http.ResponseWriter, r *http.Request, project *models.Project, path string) {
	if s.gw == nil {
		writeError(w, http.StatusServiceUnavailable, "github_not_configured", "no GitHub token configured")
		return
	}
	ref := project.DefaultBranch
	if ref == "" {
		ref = "main"
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.gitTimeout)
	entries, err := s.gw.ListTree(ctx, project.GitHubOwner, project.GitHubRepo, ref)
	cancel()
	if err != nil {
		writeFailure(w, err)
		return
	}

	if path == "" {
		infos := make([]fileInfo, 0, len(entries))
		for _, e := range entries {
			if e.Type != "blob" {
				continue
			}
			infos = append(infos, fileInfo{Path: e.Path, Size: e.Size})
		}
		writeJSON(w, http.StatusOK, infos)
		return
	}

	for _, e := range entries {
		if e.Type != "blob" || e.Path != path {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.gitTimeout)
		content, err := s.gw.GetBlob(ctx, project.GitHubOwner, project.GitHubRepo, e.SHA)
		cancel()
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fileContent{Path: e.Path, Content: string(content), Size: e.Size})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no file %s on %s", path, ref))
}

func (s *Server) upsertProjectFile(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if project.SourceType == models.SourceTypeGitHub {
		writeError(w, http.StatusBadRequest, "validation_failed", "files of a GitHub project are managed through tasks")
		return
	}

	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}
	if err := models.ValidateFilePath(req.Path); err != nil {
		writeFailure(w, err)
		return
	}

	pf := &models.ProjectFile{ProjectID: project.ID, Path: req.Path, Content: req.Content}
	if err := s.store.UpsertProjectFile(r.Context(), pf); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileInfo{Path: pf.Path, Size: int64(pf.Size)})
}

func (s *Server) deleteProjectFile(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if project.SourceType == models.SourceTypeGitHub {
		writeError(w, http.StatusBadRequest, "validation_failed", "files of a GitHub project are managed through tasks")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "path query parameter is required")
		return
	}
	if _, err := s.store.DeleteProjectFile(r.Context(), project.ID, path); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Tasks ---

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		writeFailure(w, err)
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "title is required")
		return
	}
	if req.Priority != "" && !validPriority(models.TaskPriority(req.Priority)) {
		writeError(w, http.StatusBadRequest, "validation_failed", "priority must be low, medium, or high")
		return
	}

	task := &models.Task{
		ProjectID:   projectID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    models.TaskPriority(req.Priority),
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listProjectTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskListFilter{
		ProjectID: r.PathValue("id"),
		Status:    models.TaskStatus(r.URL.Query().Get("status")),
		Priority:  models.TaskPriority(r.URL.Query().Get("priority")),
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskListFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    models.TaskStatus(r.URL.Query().Get("status")),
		Priority:  models.TaskPriority(r.URL.Query().Get("priority")),
		Limit:     queryInt(r, "limit"),
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}

	patchString(patch, "Title", &existing.Title)
	patchString(patch, "Description", &existing.Description)
	if v, ok := patch["Priority"].(string); ok && v != "" {
		if !validPriority(models.TaskPriority(v)) {
			writeError(w, http.StatusBadRequest, "validation_failed", "priority must be low, medium, or high")
			return
		}
		existing.Priority = models.TaskPriority(v)
	}
	// Status override is the admin escape hatch for tasks stuck
	// in_progress after a crash; normal transitions go through execute.
	if v, ok := patch["Status"].(string); ok && v != "" {
		if !validStatus(models.TaskStatus(v)) {
			writeError(w, http.StatusBadRequest, "validation_failed", "status must be pending, in_progress, completed, or failed")
			return
		}
		existing.Status = models.TaskStatus(v)
	}

	if err := s.store.UpdateTask(r.Context(), existing); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeTask runs the pipeline synchronously. The response reports the
// outcome even when the task failed; non-2xx is reserved for requests
// that could not start at all.
func (s *Server) executeTask(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		writeError(w, http.StatusServiceUnavailable, "ai_not_configured", "AI not configured (set ANTHROPIC_API_KEY)")
		return
	}
	result, err := s.exec.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func validPriority(p models.TaskPriority) bool {
	switch p {
	case models.TaskPriorityLow, models.TaskPriorityMedium, models.TaskPriorityHigh:
		return true
	}
	return false
}

func validStatus(st models.TaskStatus) bool {
	switch st {
	case models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted, models.TaskStatusFailed:
		return true
	}
	return false
}

// --- Pull requests ---

func (s *Server) listProjectPRs(w http.ResponseWriter, r *http.Request) {
	filter := store.PRListFilter{
		ProjectID: r.PathValue("id"),
		Status:    models.PRStatus(r.URL.Query().Get("status")),
	}
	prs, err := s.store.ListPullRequests(r.Context(), filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prs)
}

func (s *Server) listPRs(w http.ResponseWriter, r *http.Request) {
	filter := store.PRListFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		TaskID:    r.URL.Query().Get("task_id"),
		Status:    models.PRStatus(r.URL.Query().Get("status")),
		Limit:     queryInt(r, "limit"),
	}
	prs, err := s.store.ListPullRequests(r.Context(), filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prs)
}

func (s *Server) getPR(w http.ResponseWriter, r *http.Request) {
	pr, err := s.store.GetPullRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// mergePR squash-merges the GitHub PR when one exists, then marks the
// record merged. Local PRs only flip status; their changes are already in
// the file store.
func (s *Server) mergePR(w http.ResponseWriter, r *http.Request) {
	s.resolvePR(w, r, models.PRStatusMerged)
}

func (s *Server) closePR(w http.ResponseWriter, r *http.Request) {
	s.resolvePR(w, r, models.PRStatusClosed)
}

func (s *Server) resolvePR(w http.ResponseWriter, r *http.Request, target models.PRStatus) {
	pr, err := s.store.GetPullRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if pr.Status != models.PRStatusOpen {
		writeError(w, http.StatusConflict, "invalid_state", fmt.Sprintf("pull request is already %s", pr.Status))
		return
	}

	if pr.GitHubPRNumber > 0 {
		if s.gw == nil {
			writeError(w, http.StatusServiceUnavailable, "github_not_configured", "no GitHub token configured")
			return
		}
		project, err := s.store.GetProject(r.Context(), pr.ProjectID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.gitTimeout)
		if target == models.PRStatusMerged {
			err = s.gw.MergePullRequest(ctx, project.GitHubOwner, project.GitHubRepo, pr.GitHubPRNumber)
		} else {
			err = s.gw.ClosePullRequest(ctx, project.GitHubOwner, project.GitHubRepo, pr.GitHubPRNumber)
		}
		cancel()
		if err != nil {
			writeFailure(w, err)
			return
		}
	}

	pr.Status = target
	if err := s.store.UpdatePullRequest(r.Context(), pr); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// --- Dashboard ---

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	overview, err := s.stats.Overview(r.Context(), 5)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) dashboardRecent(w http.ResponseWriter, r *http.Request) {
	overview, err := s.stats.Overview(r.Context(), 5)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recent_projects":      overview.RecentProjects,
		"recent_tasks":         overview.RecentTasks,
		"recent_pull_requests": overview.RecentPullRequests,
	})
}

// --- Settings ---

// settingsResponse never carries the stored token, only whether one is
// set.
type settingsResponse struct {
	AIModel        string `json:"ai_model"`
	AIProvider     string `json:"ai_provider"`
	Theme          string `json:"theme"`
	GitHubTokenSet bool   `json:"github_token_set"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		AIModel:        settings.AIModel,
		AIProvider:     settings.AIProvider,
		Theme:          settings.Theme,
		GitHubTokenSet: settings.GitHubToken != "",
	})
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req struct {
		AIModel     string `json:"ai_model"`
		AIProvider  string `json:"ai_provider"`
		Theme       string `json:"theme"`
		GitHubToken string `json:"github_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON")
		return
	}
	if req.AIModel != "" {
		settings.AIModel = req.AIModel
	}
	if req.AIProvider != "" {
		settings.AIProvider = req.AIProvider
	}
	if req.Theme != "" {
		settings.Theme = req.Theme
	}
	if req.GitHubToken != "" {
		settings.GitHubToken = req.GitHubToken
	}

	if err := s.store.UpdateSettings(r.Context(), settings); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		AIModel:        settings.AIModel,
		AIProvider:     settings.AIProvider,
		Theme:          settings.Theme,
		GitHubTokenSet: settings.GitHubToken != "",
	})
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
