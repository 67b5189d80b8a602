package store

import (
	"context"
	"errors"
	"time"

	"github.com/hookci/hookci/internal/api"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrCredentialNotFound = errors.New("repo credential not found")
)

// Store defines the interface for data persistence.
type Store interface {
	CreateProject(ctx context.Context, project *api.Project) error
	GetProject(ctx context.Context, id string) (*api.Project, error)
	ListProjects(ctx context.Context) ([]*api.Project, error)
	UpdateProject(ctx context.Context, project *api.Project) error
	DeleteProject(ctx context.Context, id string) error

	CreateWebhook(ctx context.Context, webhook *api.Webhook) error
	GetWebhook(ctx context.Context, id string) (*api.Webhook, error)
	ListWebhooks(ctx context.Context) ([]*api.Webhook, error)
	UpdateWebhook(ctx context.Context, webhook *api.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	// IncrementWebhookTrigger bumps the trigger counter and stamps lastTriggered atomically.
	IncrementWebhookTrigger(ctx context.Context, id string, at time.Time) (*api.Webhook, error)

	// AppendBuild inserts a build record and evicts the oldest records beyond limit.
	AppendBuild(ctx context.Context, build *api.BuildLog, limit int) error
	// ListBuilds returns matching builds, newest first.
	ListBuilds(ctx context.Context, filter BuildFilter) ([]*api.BuildLog, error)
	UpdateBuildStatus(ctx context.Context, buildID string, status api.BuildStatus, duration *int64) error
	DeleteBuildsBefore(ctx context.Context, cutoff time.Time) (int, error)

	UpsertRepoCredential(ctx context.Context, credential *RepoCredential) error
	GetRepoCredential(ctx context.Context, repoID string) (*RepoCredential, error)
	DeleteRepoCredential(ctx context.Context, repoID string) error

	Close()
}

// BuildFilter narrows ListBuilds. Empty fields match everything.
type BuildFilter struct {
	Repo      string
	Branch    string
	ProjectID string
}

// Match reports whether build satisfies the filter.
func (f BuildFilter) Match(build *api.BuildLog) bool {
	if f.Repo != "" && build.Repo != f.Repo {
		return false
	}
	if f.Branch != "" && build.Branch != f.Branch {
		return false
	}
	if f.ProjectID != "" && build.ProjectID != f.ProjectID {
		return false
	}
	return true
}

// RepoCredential stores an encrypted repository access token.
type RepoCredential struct {
	RepoID          string
	TokenCiphertext []byte
	TokenNonce      []byte
}
