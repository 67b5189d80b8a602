package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/repoauth"
	"github.com/hookci/hookci/internal/store"
)

// ErrInvalidInput marks request validation failures.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// SecretStore keeps repository access tokens out of project records.
type SecretStore interface {
	SetToken(ctx context.Context, repoID, token string) error
	Token(ctx context.Context, repoID string) (string, error)
	DeleteToken(ctx context.Context, repoID string) error
}

// ProjectUpdate carries the mutable project fields. Nil fields are left untouched.
type ProjectUpdate struct {
	Name  *string     `json:"name,omitempty"`
	Type  *string     `json:"type,omitempty"`
	Repos *[]api.Repo `json:"repos,omitempty"`
}

// RepoUpdate carries the mutable repo fields. An empty Token clears the stored one.
type RepoUpdate struct {
	URL       *string   `json:"url,omitempty"`
	Branches  *[]string `json:"branches,omitempty"`
	Token     *string   `json:"token,omitempty"`
	IsPrivate *bool     `json:"isPrivate,omitempty"`
}

// ProjectRegistry manages projects and their repositories using a backend store.
type ProjectRegistry struct {
	store   store.Store
	secrets SecretStore
	now     func() time.Time
}

// NewProjectRegistry creates a registry. secrets may be nil, in which case tokens are rejected.
func NewProjectRegistry(s store.Store, secrets SecretStore) *ProjectRegistry {
	return &ProjectRegistry{
		store:   s,
		secrets: secrets,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *ProjectRegistry) List(ctx context.Context) ([]*api.Project, error) {
	return r.store.ListProjects(ctx)
}

func (r *ProjectRegistry) Get(ctx context.Context, id string) (*api.Project, error) {
	return r.store.GetProject(ctx, id)
}

// Create registers a new project. Repo tokens move to the secret store.
func (r *ProjectRegistry) Create(ctx context.Context, name, projectType string, repos []api.Repo) (*api.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("project name is required")
	}
	projectType, err := normalizeProjectType(projectType)
	if err != nil {
		return nil, err
	}

	prepared, tokens, err := r.prepareRepos(repos)
	if err != nil {
		return nil, err
	}

	now := r.now()
	project := &api.Project{
		ID:        "proj_" + uuid.NewString(),
		Name:      name,
		Type:      projectType,
		Repos:     prepared,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}

	if err := r.saveTokens(ctx, tokens); err != nil {
		_ = r.store.DeleteProject(ctx, project.ID)
		return nil, err
	}
	return project, nil
}

// Update applies changes to an existing project.
func (r *ProjectRegistry) Update(ctx context.Context, id string, update ProjectUpdate) (*api.Project, error) {
	project, err := r.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, invalidf("project name is required")
		}
		project.Name = name
	}
	if update.Type != nil {
		projectType, err := normalizeProjectType(*update.Type)
		if err != nil {
			return nil, err
		}
		project.Type = projectType
	}

	var (
		tokens  map[string]string
		removed []string
	)
	if update.Repos != nil {
		incoming, newTokens, err := r.prepareRepos(*update.Repos)
		if err != nil {
			return nil, err
		}
		kept := make(map[string]bool, len(incoming))
		for i, repo := range incoming {
			kept[repo.ID] = true
			if _, hasNew := newTokens[repo.ID]; hasNew {
				continue
			}
			if existing := findRepo(project.Repos, repo.ID); existing != nil {
				incoming[i].HasToken = existing.HasToken
			}
		}
		for _, repo := range project.Repos {
			if !kept[repo.ID] && repo.HasToken {
				removed = append(removed, repo.ID)
			}
		}
		project.Repos = incoming
		tokens = newTokens
	}

	project.UpdatedAt = r.now()
	if err := r.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	if err := r.saveTokens(ctx, tokens); err != nil {
		return nil, err
	}
	r.dropTokens(ctx, removed)
	return project, nil
}

// Delete removes a project and the tokens of its repos.
func (r *ProjectRegistry) Delete(ctx context.Context, id string) error {
	project, err := r.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	var repoIDs []string
	for _, repo := range project.Repos {
		if repo.HasToken {
			repoIDs = append(repoIDs, repo.ID)
		}
	}
	r.dropTokens(ctx, repoIDs)
	return nil
}

// AddRepo appends a repository to the project.
func (r *ProjectRegistry) AddRepo(ctx context.Context, projectID string, repo api.Repo) (*api.Project, error) {
	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	prepared, tokens, err := r.prepareRepos([]api.Repo{repo})
	if err != nil {
		return nil, err
	}
	if findRepo(project.Repos, prepared[0].ID) != nil {
		return nil, invalidf("repo %s already exists in project", prepared[0].ID)
	}

	project.Repos = append(project.Repos, prepared[0])
	project.UpdatedAt = r.now()
	if err := r.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	if err := r.saveTokens(ctx, tokens); err != nil {
		return nil, err
	}
	return project, nil
}

// RemoveRepo drops a repository from the project. Unknown repo ids are a no-op.
func (r *ProjectRegistry) RemoveRepo(ctx context.Context, projectID, repoID string) (*api.Project, error) {
	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	kept := make([]api.Repo, 0, len(project.Repos))
	var removed []string
	for _, repo := range project.Repos {
		if repo.ID == repoID {
			if repo.HasToken {
				removed = append(removed, repo.ID)
			}
			continue
		}
		kept = append(kept, repo)
	}

	project.Repos = kept
	project.UpdatedAt = r.now()
	if err := r.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	r.dropTokens(ctx, removed)
	return project, nil
}

// UpdateRepo patches one repository of the project.
func (r *ProjectRegistry) UpdateRepo(ctx context.Context, projectID, repoID string, update RepoUpdate) (*api.Project, error) {
	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	repo := findRepo(project.Repos, repoID)
	if repo == nil {
		return nil, store.ErrNotFound
	}

	if update.URL != nil {
		repo.URL = strings.TrimSpace(*update.URL)
	}
	if update.Branches != nil {
		repo.Branches = cleanBranches(*update.Branches)
	}
	if update.IsPrivate != nil {
		repo.IsPrivate = *update.IsPrivate
	}

	token := ""
	if update.Token != nil {
		token = strings.TrimSpace(*update.Token)
	}
	if err := repoauth.ValidateRepo(repo.URL, token); err != nil {
		return nil, invalidf("%v", err)
	}
	if token != "" && r.secrets == nil {
		return nil, invalidf("repo tokens require credential encryption")
	}
	if update.Token != nil {
		repo.HasToken = token != ""
	}

	project.UpdatedAt = r.now()
	if err := r.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	if update.Token != nil && r.secrets != nil {
		if err := r.secrets.SetToken(ctx, repoID, token); err != nil {
			return nil, err
		}
	}
	return project, nil
}

// FindByRepoURL returns the first project owning a repo whose normalized URL matches.
func (r *ProjectRegistry) FindByRepoURL(ctx context.Context, repoURLs ...string) (*api.Project, *api.Repo, error) {
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, project := range projects {
		for i := range project.Repos {
			for _, candidate := range repoURLs {
				if candidate != "" && repoauth.SameRepo(project.Repos[i].URL, candidate) {
					return project, &project.Repos[i], nil
				}
			}
		}
	}
	return nil, nil, store.ErrNotFound
}

// RepoToken returns the stored access token for repoID, or "".
func (r *ProjectRegistry) RepoToken(ctx context.Context, repoID string) (string, error) {
	if r.secrets == nil {
		return "", nil
	}
	return r.secrets.Token(ctx, repoID)
}

func (r *ProjectRegistry) prepareRepos(repos []api.Repo) ([]api.Repo, map[string]string, error) {
	prepared := make([]api.Repo, 0, len(repos))
	tokens := map[string]string{}
	seen := map[string]bool{}

	for _, repo := range repos {
		repo.URL = strings.TrimSpace(repo.URL)
		repo.Token = strings.TrimSpace(repo.Token)
		if err := repoauth.ValidateRepo(repo.URL, repo.Token); err != nil {
			return nil, nil, invalidf("%v", err)
		}
		if repo.ID == "" {
			repo.ID = "repo_" + uuid.NewString()
		}
		if seen[repo.ID] {
			return nil, nil, invalidf("duplicate repo id %s", repo.ID)
		}
		seen[repo.ID] = true
		repo.Branches = cleanBranches(repo.Branches)

		if repo.Token != "" {
			if r.secrets == nil {
				return nil, nil, invalidf("repo tokens require credential encryption")
			}
			tokens[repo.ID] = repo.Token
			repo.HasToken = true
			repo.Token = ""
		} else {
			// Callers restore the flag for repos that already hold a stored token.
			repo.HasToken = false
		}
		prepared = append(prepared, repo)
	}
	return prepared, tokens, nil
}

func (r *ProjectRegistry) saveTokens(ctx context.Context, tokens map[string]string) error {
	for repoID, token := range tokens {
		if err := r.secrets.SetToken(ctx, repoID, token); err != nil {
			return err
		}
	}
	return nil
}

// dropTokens is best effort; a leftover ciphertext is unreachable once its repo is gone.
func (r *ProjectRegistry) dropTokens(ctx context.Context, repoIDs []string) {
	if r.secrets == nil {
		return
	}
	for _, repoID := range repoIDs {
		_ = r.secrets.DeleteToken(ctx, repoID)
	}
}

func normalizeProjectType(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", api.ProjectSingle:
		return api.ProjectSingle, nil
	case api.ProjectMultiple:
		return api.ProjectMultiple, nil
	default:
		return "", invalidf("unsupported project type %q", value)
	}
}

func cleanBranches(branches []string) []string {
	cleaned := make([]string, 0, len(branches))
	for _, branch := range branches {
		if branch = strings.TrimSpace(branch); branch != "" {
			cleaned = append(cleaned, branch)
		}
	}
	return cleaned
}

func findRepo(repos []api.Repo, id string) *api.Repo {
	for i := range repos {
		if repos[i].ID == id {
			return &repos[i]
		}
	}
	return nil
}
