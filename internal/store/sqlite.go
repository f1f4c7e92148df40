package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// marshalJSON serializes a value for a JSON TEXT column, defaulting to the
// given literal on nil or marshal failure.
func marshalJSON(v any, def string) string {
	data, err := json.Marshal(v)
	if err != nil || v == nil {
		return def
	}
	return string(data)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

const projectColumns = `id, name, description, source_type, github_owner, github_repo, default_branch, tech_stack, summary, status, file_count, created_at, updated_at`

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.ProjectStatusCreated
	}
	if p.DefaultBranch == "" && p.SourceType == models.SourceTypeGitHub {
		p.DefaultBranch = "main"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, string(p.SourceType), p.GitHubOwner, p.GitHubRepo,
		p.DefaultBranch, marshalJSON(p.TechStack, "[]"), p.Summary, string(p.Status),
		p.FileCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	var sourceType, status, techStack string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &sourceType, &p.GitHubOwner, &p.GitHubRepo,
		&p.DefaultBranch, &techStack, &p.Summary, &status, &p.FileCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.SourceType = models.SourceType(sourceType)
	p.Status = models.ProjectStatus(status)
	_ = json.Unmarshal([]byte(techStack), &p.TechStack)
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := s.scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	p, err := s.scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", errors.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := s.scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=?, source_type=?, github_owner=?, github_repo=?, default_branch=?, tech_stack=?, summary=?, status=?, file_count=?, updated_at=?
		WHERE id=?`,
		p.Name, p.Description, string(p.SourceType), p.GitHubOwner, p.GitHubRepo,
		p.DefaultBranch, marshalJSON(p.TechStack, "[]"), p.Summary, string(p.Status),
		p.FileCount, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: project %s", errors.ErrNotFound, p.ID)
	}
	return nil
}

// DeleteProject removes a project together with its files, tasks, and pull
// requests.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		"DELETE FROM project_files WHERE project_id = ?",
		"DELETE FROM pull_requests WHERE project_id = ?",
		"DELETE FROM tasks WHERE project_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete project children: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: project %s", errors.ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Project files ---

func (s *SQLiteStore) UpsertProjectFile(ctx context.Context, f *models.ProjectFile) error {
	f.UpdatedAt = time.Now().UTC()
	if f.Size == 0 {
		f.Size = len(f.Content)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_files (project_id, path, content, size, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET content=excluded.content, size=excluded.size, updated_at=excluded.updated_at`,
		f.ProjectID, f.Path, f.Content, f.Size, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert project file: %w", err)
	}
	return s.syncFileCount(ctx, f.ProjectID)
}

func (s *SQLiteStore) GetProjectFile(ctx context.Context, projectID, path string) (*models.ProjectFile, error) {
	f := &models.ProjectFile{}
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, path, content, size, updated_at FROM project_files WHERE project_id = ? AND path = ?`,
		projectID, path,
	).Scan(&f.ProjectID, &f.Path, &f.Content, &f.Size, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: file %s", errors.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get project file: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListProjectFiles(ctx context.Context, projectID string) ([]*models.ProjectFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, path, content, size, updated_at FROM project_files WHERE project_id = ? ORDER BY path`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*models.ProjectFile
	for rows.Next() {
		f := &models.ProjectFile{}
		if err := rows.Scan(&f.ProjectID, &f.Path, &f.Content, &f.Size, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteProjectFile removes a stored file. Deleting a path that does not
// exist is not an error; the bool reports whether a row was removed.
func (s *SQLiteStore) DeleteProjectFile(ctx context.Context, projectID, path string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM project_files WHERE project_id = ? AND path = ?", projectID, path)
	if err != nil {
		return false, fmt.Errorf("delete project file: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		if err := s.syncFileCount(ctx, projectID); err != nil {
			return true, err
		}
	}
	return n > 0, nil
}

// syncFileCount keeps projects.file_count consistent with project_files.
func (s *SQLiteStore) syncFileCount(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_count = (SELECT COUNT(*) FROM project_files WHERE project_id = ?) WHERE id = ?`,
		projectID, projectID,
	)
	if err != nil {
		return fmt.Errorf("sync file count: %w", err)
	}
	return nil
}

// --- Tasks ---

const taskColumns = `id, project_id, title, description, priority, status, ai_response, files_changed, branch_name, pr_id, diagnostic, created_at, updated_at`

func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = newULID()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = models.TaskPriorityMedium
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ProjectID, task.Title, task.Description,
		string(task.Priority), string(task.Status),
		task.AIResponse, marshalJSON(task.FilesChanged, "[]"),
		task.BranchName, task.PRID, task.Diagnostic,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	task := &models.Task{}
	var priority, status, filesJSON string
	err := row.Scan(&task.ID, &task.ProjectID, &task.Title, &task.Description,
		&priority, &status, &task.AIResponse, &filesJSON,
		&task.BranchName, &task.PRID, &task.Diagnostic,
		&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Priority = models.TaskPriority(priority)
	task.Status = models.TaskStatus(status)
	_ = json.Unmarshal([]byte(filesJSON), &task.FilesChanged)
	return task, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, priority=?, status=?, ai_response=?, files_changed=?, branch_name=?, pr_id=?, diagnostic=?, updated_at=?
		WHERE id=?`,
		task.Title, task.Description, string(task.Priority), string(task.Status),
		task.AIResponse, marshalJSON(task.FilesChanged, "[]"),
		task.BranchName, task.PRID, task.Diagnostic,
		task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: task %s", errors.ErrNotFound, task.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: task %s", errors.ErrNotFound, id)
	}
	return nil
}

// TransitionTaskStatus performs a compare-and-set on tasks.status. The
// single UPDATE is atomic under SQLite's write lock, so exactly one of any
// number of concurrent callers can win a pending -> in_progress transition.
func (s *SQLiteStore) TransitionTaskStatus(ctx context.Context, id string, from []models.TaskStatus, to models.TaskStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no source statuses", errors.ErrInvalidState)
	}

	placeholders := make([]string, len(from))
	args := []any{string(to), time.Now().UTC(), id}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(
		"UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status IN (%s)",
		strings.Join(placeholders, ","),
	)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition task status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Distinguish a missing task from one in the wrong state.
		var current string
		err := s.db.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: task %s", errors.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("transition task status: %w", err)
		}
		return fmt.Errorf("%w: task %s is %s", errors.ErrInvalidState, id, current)
	}
	return nil
}

// --- Pull requests ---

const prColumns = `id, project_id, task_id, title, description, branch_name, base_branch, status, files_changed, github_pr_number, github_pr_url, created_at, updated_at`

func (s *SQLiteStore) CreatePullRequest(ctx context.Context, pr *models.PullRequest) error {
	if pr.ID == "" {
		pr.ID = newULID()
	}
	now := time.Now().UTC()
	pr.CreatedAt = now
	pr.UpdatedAt = now
	if pr.Status == "" {
		pr.Status = models.PRStatusOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pull_requests (`+prColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.ProjectID, pr.TaskID, pr.Title, pr.Description,
		pr.BranchName, pr.BaseBranch, string(pr.Status),
		marshalJSON(pr.FilesChanged, "[]"),
		pr.GitHubPRNumber, pr.GitHubPRURL,
		pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanPullRequest(row interface{ Scan(...any) error }) (*models.PullRequest, error) {
	pr := &models.PullRequest{}
	var status, filesJSON string
	err := row.Scan(&pr.ID, &pr.ProjectID, &pr.TaskID, &pr.Title, &pr.Description,
		&pr.BranchName, &pr.BaseBranch, &status, &filesJSON,
		&pr.GitHubPRNumber, &pr.GitHubPRURL,
		&pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pr.Status = models.PRStatus(status)
	_ = json.Unmarshal([]byte(filesJSON), &pr.FilesChanged)
	return pr, nil
}

func (s *SQLiteStore) GetPullRequest(ctx context.Context, id string) (*models.PullRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prColumns+` FROM pull_requests WHERE id = ?`, id)
	pr, err := s.scanPullRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pull request %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return pr, nil
}

func (s *SQLiteStore) ListPullRequests(ctx context.Context, filter PRListFilter) ([]*models.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests`
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.TaskID != "" {
		conditions = append(conditions, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prs []*models.PullRequest
	for rows.Next() {
		pr, err := s.scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func (s *SQLiteStore) UpdatePullRequest(ctx context.Context, pr *models.PullRequest) error {
	pr.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET title=?, description=?, branch_name=?, base_branch=?, status=?, files_changed=?, github_pr_number=?, github_pr_url=?, updated_at=?
		WHERE id=?`,
		pr.Title, pr.Description, pr.BranchName, pr.BaseBranch, string(pr.Status),
		marshalJSON(pr.FilesChanged, "[]"),
		pr.GitHubPRNumber, pr.GitHubPRURL,
		pr.UpdatedAt, pr.ID,
	)
	if err != nil {
		return fmt.Errorf("update pull request: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: pull request %s", errors.ErrNotFound, pr.ID)
	}
	return nil
}

// --- Settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	st := &models.Settings{}
	err := s.db.QueryRowContext(ctx,
		`SELECT ai_model, ai_provider, theme, github_token, updated_at FROM settings WHERE id = 1`,
	).Scan(&st.AIModel, &st.AIProvider, &st.Theme, &st.GitHubToken, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) UpdateSettings(ctx context.Context, st *models.Settings) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET ai_model=?, ai_provider=?, theme=?, github_token=?, updated_at=? WHERE id = 1`,
		st.AIModel, st.AIProvider, st.Theme, st.GitHubToken, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// --- Dashboard ---

func (s *SQLiteStore) CountProjects(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&n); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[models.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) CountPullRequestsByStatus(ctx context.Context) (map[models.PRStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM pull_requests GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.PRStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan pull request count: %w", err)
		}
		counts[models.PRStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) RecentProjects(ctx context.Context, limit int) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := s.scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) RecentTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) RecentPullRequests(ctx context.Context, limit int) ([]*models.PullRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prColumns+` FROM pull_requests ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prs []*models.PullRequest
	for rows.Next() {
		pr, err := s.scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}
