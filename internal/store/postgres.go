package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'single',
			repos JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			repo_id TEXT NOT NULL DEFAULT '',
			branches JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expiry_date TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_triggered TIMESTAMPTZ,
			triggers INTEGER NOT NULL DEFAULT 0
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS builds (
			seq BIGSERIAL PRIMARY KEY,
			build_id TEXT NOT NULL,
			repo TEXT NOT NULL,
			branch TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			author TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			jenkins_url TEXT NOT NULL DEFAULT '',
			duration BIGINT,
			project_id TEXT NOT NULL DEFAULT '',
			project_name TEXT NOT NULL DEFAULT ''
		);
		`,
		`CREATE INDEX IF NOT EXISTS builds_build_id_idx ON builds (build_id)`,
		`
		CREATE TABLE IF NOT EXISTS repo_credentials (
			repo_id TEXT PRIMARY KEY,
			token_ciphertext BYTEA NOT NULL,
			token_nonce BYTEA NOT NULL
		);
		`,
		`ALTER TABLE builds ADD COLUMN IF NOT EXISTS project_name TEXT NOT NULL DEFAULT ''`,
	}
	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, project *api.Project) error {
	repos, err := encodeRepos(project.Repos)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO projects (id, name, type, repos, created_at, updated_at)
	VALUES ($1, $2, $3, $4::jsonb, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query, project.ID, project.Name, project.Type, repos, project.CreatedAt, project.UpdatedAt)
	return err
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*api.Project, error) {
	query := `SELECT id, name, type, repos::text, created_at, updated_at FROM projects WHERE id = $1`
	project, err := scanPostgresProject(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return project, err
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*api.Project, error) {
	query := `SELECT id, name, type, repos::text, created_at, updated_at FROM projects ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []*api.Project{}
	for rows.Next() {
		project, err := scanPostgresProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project *api.Project) error {
	repos, err := encodeRepos(project.Repos)
	if err != nil {
		return err
	}
	query := `UPDATE projects SET name = $1, type = $2, repos = $3::jsonb, updated_at = $4 WHERE id = $5`
	ct, err := s.pool.Exec(ctx, query, project.Name, project.Type, repos, project.UpdatedAt, project.ID)
	return affected(ct, err)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return affected(ct, err)
}

const postgresWebhookColumns = `id, name, display_name, endpoint, project_id, repo_id, branches::text, is_active, expiry_date, created_at, updated_at, last_triggered, triggers`

func (s *PostgresStore) CreateWebhook(ctx context.Context, webhook *api.Webhook) error {
	branches, err := encodeBranches(webhook.Branches)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO webhooks (id, name, display_name, endpoint, project_id, repo_id, branches, is_active, expiry_date, created_at, updated_at, last_triggered, triggers)
	VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.pool.Exec(
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
		webhook.ExpiryDate,
		webhook.CreatedAt,
		webhook.UpdatedAt,
		webhook.LastTriggered,
		webhook.Triggers,
	)
	return err
}

func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*api.Webhook, error) {
	query := `SELECT ` + postgresWebhookColumns + ` FROM webhooks WHERE id = $1`
	webhook, err := scanPostgresWebhook(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return webhook, err
}

func (s *PostgresStore) ListWebhooks(ctx context.Context) ([]*api.Webhook, error) {
	query := `SELECT ` + postgresWebhookColumns + ` FROM webhooks ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := []*api.Webhook{}
	for rows.Next() {
		webhook, err := scanPostgresWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func (s *PostgresStore) UpdateWebhook(ctx context.Context, webhook *api.Webhook) error {
	branches, err := encodeBranches(webhook.Branches)
	if err != nil {
		return err
	}
	query := `
	UPDATE webhooks
	SET
		name = $1,
		display_name = $2,
		project_id = $3,
		repo_id = $4,
		branches = $5::jsonb,
		is_active = $6,
		expiry_date = $7,
		updated_at = $8
	WHERE id = $9
	`
	ct, err := s.pool.Exec(
		ctx,
		query,
		webhook.Name,
		webhook.DisplayName,
		webhook.ProjectID,
		webhook.RepoID,
		branches,
		webhook.IsActive,
		webhook.ExpiryDate,
		webhook.UpdatedAt,
		webhook.ID,
	)
	return affected(ct, err)
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	return affected(ct, err)
}

func (s *PostgresStore) IncrementWebhookTrigger(ctx context.Context, id string, at time.Time) (*api.Webhook, error) {
	query := `
	UPDATE webhooks
	SET triggers = triggers + 1, last_triggered = $1, updated_at = $1
	WHERE id = $2
	RETURNING ` + postgresWebhookColumns
	webhook, err := scanPostgresWebhook(s.pool.QueryRow(ctx, query, at, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return webhook, err
}

func (s *PostgresStore) AppendBuild(ctx context.Context, build *api.BuildLog, limit int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
	INSERT INTO builds (build_id, repo, branch, commit_sha, author, message, status, timestamp, jenkins_url, duration, project_id, project_name)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := tx.Exec(
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
		build.Duration,
		build.ProjectID,
		build.ProjectName,
	); err != nil {
		return err
	}

	if limit > 0 {
		evict := `DELETE FROM builds WHERE seq NOT IN (SELECT seq FROM builds ORDER BY seq DESC LIMIT $1)`
		if _, err := tx.Exec(ctx, evict, limit); err != nil {
			return fmt.Errorf("failed to evict old builds: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]*api.BuildLog, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Repo != "" {
		args = append(args, filter.Repo)
		clauses = append(clauses, fmt.Sprintf("repo = $%d", len(args)))
	}
	if filter.Branch != "" {
		args = append(args, filter.Branch)
		clauses = append(clauses, fmt.Sprintf("branch = $%d", len(args)))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	}

	query := `SELECT build_id, repo, branch, commit_sha, author, message, status, timestamp, jenkins_url, duration, project_id, project_name FROM builds`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	builds := []*api.BuildLog{}
	for rows.Next() {
		var (
			build  api.BuildLog
			status string
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
			&build.Duration,
			&build.ProjectID,
			&build.ProjectName,
		); err != nil {
			return nil, err
		}
		build.Status = api.BuildStatus(status)
		builds = append(builds, &build)
	}
	return builds, rows.Err()
}

func (s *PostgresStore) UpdateBuildStatus(ctx context.Context, buildID string, status api.BuildStatus, duration *int64) error {
	query := `
	UPDATE builds
	SET status = $1, duration = COALESCE($2, duration)
	WHERE seq = (SELECT MAX(seq) FROM builds WHERE build_id = $3)
	`
	ct, err := s.pool.Exec(ctx, query, string(status), duration, buildID)
	return affected(ct, err)
}

func (s *PostgresStore) DeleteBuildsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM builds WHERE timestamp <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) UpsertRepoCredential(ctx context.Context, credential *RepoCredential) error {
	query := `
	INSERT INTO repo_credentials (repo_id, token_ciphertext, token_nonce)
	VALUES ($1, $2, $3)
	ON CONFLICT (repo_id) DO UPDATE SET
		token_ciphertext = EXCLUDED.token_ciphertext,
		token_nonce = EXCLUDED.token_nonce
	`
	_, err := s.pool.Exec(ctx, query, credential.RepoID, credential.TokenCiphertext, credential.TokenNonce)
	return err
}

func (s *PostgresStore) GetRepoCredential(ctx context.Context, repoID string) (*RepoCredential, error) {
	query := `SELECT repo_id, token_ciphertext, token_nonce FROM repo_credentials WHERE repo_id = $1`
	row := s.pool.QueryRow(ctx, query, repoID)

	credential := &RepoCredential{}
	if err := row.Scan(&credential.RepoID, &credential.TokenCiphertext, &credential.TokenNonce); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return credential, nil
}

func (s *PostgresStore) DeleteRepoCredential(ctx context.Context, repoID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM repo_credentials WHERE repo_id = $1`, repoID)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanPostgresProject(row pgx.Row) (*api.Project, error) {
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

func scanPostgresWebhook(row pgx.Row) (*api.Webhook, error) {
	var (
		webhook  api.Webhook
		branches string
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
		&webhook.ExpiryDate,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
		&webhook.LastTriggered,
		&webhook.Triggers,
	); err != nil {
		return nil, err
	}
	decoded, err := decodeBranches(branches)
	if err != nil {
		return nil, err
	}
	webhook.Branches = decoded
	return &webhook, nil
}

func affected(ct pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
