package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hookci/hookci/internal/api"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the SQLite database and creates necessary tables.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer; a single connection also keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []struct {
		name  string
		query string
	}{
		{"projects", `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'single',
			repos TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME,
			updated_at DATETIME
		);`},
		{"webhooks", `
		CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			repo_id TEXT NOT NULL DEFAULT '',
			branches TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			expiry_date DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			last_triggered DATETIME,
			triggers INTEGER NOT NULL DEFAULT 0
		);`},
		{"builds", `
		CREATE TABLE IF NOT EXISTS builds (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			build_id TEXT NOT NULL,
			repo TEXT NOT NULL,
			branch TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			author TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			jenkins_url TEXT NOT NULL DEFAULT '',
			duration INTEGER,
			project_id TEXT NOT NULL DEFAULT '',
			project_name TEXT NOT NULL DEFAULT ''
		);`},
		{"repo_credentials", `
		CREATE TABLE IF NOT EXISTS repo_credentials (
			repo_id TEXT PRIMARY KEY,
			token_ciphertext BLOB NOT NULL,
			token_nonce BLOB NOT NULL
		);`},
	}
	for _, table := range tables {
		if _, err := db.Exec(table.query); err != nil {
			return nil, fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *api.Project) error {
	repos, err := encodeRepos(project.Repos)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO projects (id, name, type, repos, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, project.ID, project.Name, project.Type, repos, project.CreatedAt, project.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*api.Project, error) {
	query := `SELECT id, name, type, repos, created_at, updated_at FROM projects WHERE id = ?`
	project, err := scanSQLiteProject(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return project, err
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*api.Project, error) {
	query := `SELECT id, name, type, repos, created_at, updated_at FROM projects ORDER BY created_at DESC, rowid DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []*api.Project{}
	for rows.Next() {
		project, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, project *api.Project) error {
	repos, err := encodeRepos(project.Repos)
	if err != nil {
		return err
	}
	query := `UPDATE projects SET name = ?, type = ?, repos = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, project.Name, project.Type, repos, project.UpdatedAt, project.ID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *SQLiteStore) CreateWebhook(ctx context.Context, webhook *api.Webhook) error {
	branches, err := encodeBranches(webhook.Branches)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO webhooks (id, name, display_name, endpoint, project_id, repo_id, branches, is_active, expiry_date, created_at, updated_at, last_triggered, triggers)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		webhook.ID,
		webhook.Name,
		webhook.DisplayName,
		webhook.Endpoint,
		webhook.ProjectID,
		webhook.RepoID,
		branches,
		webhook.IsActive,
		nullTime(webhook.ExpiryDate),
		webhook.CreatedAt,
		webhook.UpdatedAt,
		nullTime(webhook.LastTriggered),
		webhook.Triggers,
	)
	return err
}

const sqliteWebhookColumns = `id, name, display_name, endpoint, project_id, repo_id, branches, is_active, expiry_date, created_at, updated_at, last_triggered, triggers`

func (s *SQLiteStore) GetWebhook(ctx context.Context, id string) (*api.Webhook, error) {
	query := `SELECT ` + sqliteWebhookColumns + ` FROM webhooks WHERE id = ?`
	webhook, err := scanSQLiteWebhook(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return webhook, err
}

func (s *SQLiteStore) ListWebhooks(ctx context.Context) ([]*api.Webhook, error) {
	query := `SELECT ` + sqliteWebhookColumns + ` FROM webhooks ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := []*api.Webhook{}
	for rows.Next() {
		webhook, err := scanSQLiteWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func (s *SQLiteStore) UpdateWebhook(ctx context.Context, webhook *api.Webhook) error {
	branches, err := encodeBranches(webhook.Branches)
	if err != nil {
		return err
	}
	query := `
	UPDATE webhooks
	SET name = ?, display_name = ?, project_id = ?, repo_id = ?, branches = ?, is_active = ?, expiry_date = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		webhook.Name,
		webhook.DisplayName,
		webhook.ProjectID,
		webhook.RepoID,
		branches,
		webhook.IsActive,
		nullTime(webhook.ExpiryDate),
		webhook.UpdatedAt,
		webhook.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *SQLiteStore) DeleteWebhook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *SQLiteStore) IncrementWebhookTrigger(ctx context.Context, id string, at time.Time) (*api.Webhook, error) {
	query := `UPDATE webhooks SET triggers = triggers + 1, last_triggered = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, at, at, id)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(result); err != nil {
		return nil, err
	}
	return s.GetWebhook(ctx, id)
}

func (s *SQLiteStore) AppendBuild(ctx context.Context, build *api.BuildLog, limit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
	INSERT INTO builds (build_id, repo, branch, commit_sha, author, message, status, timestamp, jenkins_url, duration, project_id, project_name)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(
		ctx,
		query,
		build.BuildID,
		build.Repo,
		build.Branch,
		build.Commit,
		build.Author,
		build.Message,
		string(build.Status),
		build.Timestamp,
		build.JenkinsURL,
		nullInt64(build.Duration),
		build.ProjectID,
		build.ProjectName,
	); err != nil {
		return err
	}

	if limit > 0 {
		evict := `DELETE FROM builds WHERE seq NOT IN (SELECT seq FROM builds ORDER BY seq DESC LIMIT ?)`
		if _, err := tx.ExecContext(ctx, evict, limit); err != nil {
			return fmt.Errorf("failed to evict old builds: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]*api.BuildLog, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Repo != "" {
		clauses = append(clauses, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.Branch != "" {
		clauses = append(clauses, "branch = ?")
		args = append(args, filter.Branch)
	}
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}

	query := `SELECT build_id, repo, branch, commit_sha, author, message, status, timestamp, jenkins_url, duration, project_id, project_name FROM builds`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	builds := []*api.BuildLog{}
	for rows.Next() {
		var (
			build    api.BuildLog
			status   string
			duration sql.NullInt64
		)
		if err := rows.Scan(
			&build.BuildID,
			&build.Repo,
			&build.Branch,
			&build.Commit,
			&build.Author,
			&build.Message,
			&status,
			&build.Timestamp,
			&build.JenkinsURL,
			&duration,
			&build.ProjectID,
			&build.ProjectName,
		); err != nil {
			return nil, err
		}
		build.Status = api.BuildStatus(status)
		build.Duration = int64Ptr(duration)
		builds = append(builds, &build)
	}
	return builds, rows.Err()
}

func (s *SQLiteStore) UpdateBuildStatus(ctx context.Context, buildID string, status api.BuildStatus, duration *int64) error {
	query := `
	UPDATE builds
	SET status = ?, duration = COALESCE(?, duration)
	WHERE seq = (SELECT MAX(seq) FROM builds WHERE build_id = ?)
	`
	result, err := s.db.ExecContext(ctx, query, string(status), nullInt64(duration), buildID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *SQLiteStore) DeleteBuildsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE timestamp <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStore) UpsertRepoCredential(ctx context.Context, credential *RepoCredential) error {
	query := `
	INSERT INTO repo_credentials (repo_id, token_ciphertext, token_nonce)
	VALUES (?, ?, ?)
	ON CONFLICT(repo_id) DO UPDATE SET
		token_ciphertext = excluded.token_ciphertext,
		token_nonce = excluded.token_nonce
	`
	_, err := s.db.ExecContext(ctx, query, credential.RepoID, credential.TokenCiphertext, credential.TokenNonce)
	return err
}

func (s *SQLiteStore) GetRepoCredential(ctx context.Context, repoID string) (*RepoCredential, error) {
	query := `SELECT repo_id, token_ciphertext, token_nonce FROM repo_credentials WHERE repo_id = ?`
	row := s.db.QueryRowContext(ctx, query, repoID)

	credential := &RepoCredential{}
	if err := row.Scan(&credential.RepoID, &credential.TokenCiphertext, &credential.TokenNonce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return credential, nil
}

func (s *SQLiteStore) DeleteRepoCredential(ctx context.Context, repoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repo_credentials WHERE repo_id = ?`, repoID)
	return err
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProject(row rowScanner) (*api.Project, error) {
	var (
		project api.Project
		repos   string
	)
	if err := row.Scan(&project.ID, &project.Name, &project.Type, &repos, &project.CreatedAt, &project.UpdatedAt); err != nil {
		return nil, err
	}
	decoded, err := decodeRepos(repos)
	if err != nil {
		return nil, err
	}
	project.Repos = decoded
	return &project, nil
}

func scanSQLiteWebhook(row rowScanner) (*api.Webhook, error) {
	var (
		webhook       api.Webhook
		branches      string
		expiryDate    sql.NullTime
		lastTriggered sql.NullTime
	)
	if err := row.Scan(
		&webhook.ID,
		&webhook.Name,
		&webhook.DisplayName,
		&webhook.Endpoint,
		&webhook.ProjectID,
		&webhook.RepoID,
		&branches,
		&webhook.IsActive,
		&expiryDate,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
		&lastTriggered,
		&webhook.Triggers,
	); err != nil {
		return nil, err
	}
	decoded, err := decodeBranches(branches)
	if err != nil {
		return nil, err
	}
	webhook.Branches = decoded
	webhook.ExpiryDate = timePtr(expiryDate)
	webhook.LastTriggered = timePtr(lastTriggered)
	return &webhook, nil
}

func expectAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
