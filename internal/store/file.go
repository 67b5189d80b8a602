package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hookci/hookci/internal/api"
)

// FileStore persists each collection as a JSON document under a data directory.
// Collections are loaded on first use and cached for the life of the store.
// Writers in other processes are not coordinated; the last write wins.
type FileStore struct {
	dir string
	mu  sync.Mutex

	projects    []*api.Project
	webhooks    []*api.Webhook
	builds      []*api.BuildLog // newest first
	credentials map[string]*RepoCredential

	loaded bool
}

const (
	projectsFile    = "projects.json"
	webhooksFile    = "webhooks.json"
	buildsFile      = "builds.json"
	credentialsFile = "credentials.json"
)

// NewFileStore returns a FileStore rooted at dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	s.projects = []*api.Project{}
	s.webhooks = []*api.Webhook{}
	s.builds = []*api.BuildLog{}
	s.credentials = map[string]*RepoCredential{}

	if err := s.readJSON(projectsFile, &s.projects); err != nil {
		return err
	}
	if err := s.readJSON(webhooksFile, &s.webhooks); err != nil {
		return err
	}
	if err := s.readJSON(buildsFile, &s.builds); err != nil {
		return err
	}
	if err := s.readJSON(credentialsFile, &s.credentials); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// readJSON leaves target untouched when the file is missing or empty.
func (s *FileStore) readJSON(name string, target any) error {
	bytes, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, target)
}

// writeJSON replaces name atomically. Callers swap the cached collection only
// after it returns nil, so a failed write leaves the cache matching the disk.
func (s *FileStore) writeJSON(name string, value any) error {
	bytes, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(bytes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// lock acquires the write lock and makes sure the cache is populated.
func (s *FileStore) lock() error {
	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *FileStore) saveProjectsLocked(projects []*api.Project) error {
	if err := s.writeJSON(projectsFile, projects); err != nil {
		return err
	}
	s.projects = projects
	return nil
}

func (s *FileStore) saveWebhooksLocked(webhooks []*api.Webhook) error {
	if err := s.writeJSON(webhooksFile, webhooks); err != nil {
		return err
	}
	s.webhooks = webhooks
	return nil
}

func (s *FileStore) saveBuildsLocked(builds []*api.BuildLog) error {
	if err := s.writeJSON(buildsFile, builds); err != nil {
		return err
	}
	s.builds = builds
	return nil
}

func (s *FileStore) saveCredentialsLocked(credentials map[string]*RepoCredential) error {
	if err := s.writeJSON(credentialsFile, credentials); err != nil {
		return err
	}
	s.credentials = credentials
	return nil
}

// storedProject copies project without plaintext repo tokens.
func storedProject(project *api.Project) *api.Project {
	stored := cloneProject(project)
	for i := range stored.Repos {
		stored.Repos[i].Token = ""
	}
	return stored
}

func (s *FileStore) CreateProject(_ context.Context, project *api.Project) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	return s.saveProjectsLocked(append([]*api.Project{storedProject(project)}, s.projects...))
}

func (s *FileStore) GetProject(_ context.Context, id string) (*api.Project, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	for _, project := range s.projects {
		if project.ID == id {
			return cloneProject(project), nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) ListProjects(_ context.Context) ([]*api.Project, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	result := make([]*api.Project, 0, len(s.projects))
	for _, project := range s.projects {
		result = append(result, cloneProject(project))
	}
	return result, nil
}

func (s *FileStore) UpdateProject(_ context.Context, project *api.Project) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for i, existing := range s.projects {
		if existing.ID == project.ID {
			updated := storedProject(project)
			updated.CreatedAt = existing.CreatedAt
			projects := append([]*api.Project{}, s.projects...)
			projects[i] = updated
			return s.saveProjectsLocked(projects)
		}
	}
	return ErrNotFound
}

func (s *FileStore) DeleteProject(_ context.Context, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for i, project := range s.projects {
		if project.ID == id {
			projects := append(append([]*api.Project{}, s.projects[:i]...), s.projects[i+1:]...)
			return s.saveProjectsLocked(projects)
		}
	}
	return ErrNotFound
}

func (s *FileStore) CreateWebhook(_ context.Context, webhook *api.Webhook) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	webhooks := append(append([]*api.Webhook{}, s.webhooks...), cloneWebhook(webhook))
	return s.saveWebhooksLocked(webhooks)
}

func (s *FileStore) GetWebhook(_ context.Context, id string) (*api.Webhook, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	for _, webhook := range s.webhooks {
		if webhook.ID == id {
			return cloneWebhook(webhook), nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) ListWebhooks(_ context.Context) ([]*api.Webhook, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	result := make([]*api.Webhook, 0, len(s.webhooks))
	for _, webhook := range s.webhooks {
		result = append(result, cloneWebhook(webhook))
	}
	return result, nil
}

func (s *FileStore) UpdateWebhook(_ context.Context, webhook *api.Webhook) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for i, existing := range s.webhooks {
		if existing.ID == webhook.ID {
			updated := cloneWebhook(webhook)
			updated.Endpoint = existing.Endpoint
			updated.CreatedAt = existing.CreatedAt
			updated.Triggers = existing.Triggers
			updated.LastTriggered = existing.LastTriggered
			webhooks := append([]*api.Webhook{}, s.webhooks...)
			webhooks[i] = updated
			return s.saveWebhooksLocked(webhooks)
		}
	}
	return ErrNotFound
}

func (s *FileStore) DeleteWebhook(_ context.Context, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for i, webhook := range s.webhooks {
		if webhook.ID == id {
			webhooks := append(append([]*api.Webhook{}, s.webhooks[:i]...), s.webhooks[i+1:]...)
			return s.saveWebhooksLocked(webhooks)
		}
	}
	return ErrNotFound
}

func (s *FileStore) IncrementWebhookTrigger(_ context.Context, id string, at time.Time) (*api.Webhook, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	for i, existing := range s.webhooks {
		if existing.ID == id {
			stamp := at
			updated := cloneWebhook(existing)
			updated.Triggers++
			updated.LastTriggered = &stamp
			updated.UpdatedAt = at
			webhooks := append([]*api.Webhook{}, s.webhooks...)
			webhooks[i] = updated
			if err := s.saveWebhooksLocked(webhooks); err != nil {
				return nil, err
			}
			return cloneWebhook(updated), nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) AppendBuild(_ context.Context, build *api.BuildLog, limit int) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	builds := append([]*api.BuildLog{cloneBuild(build)}, s.builds...)
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return s.saveBuildsLocked(builds)
}

func (s *FileStore) ListBuilds(_ context.Context, filter BuildFilter) ([]*api.BuildLog, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	result := []*api.BuildLog{}
	for _, build := range s.builds {
		if filter.Match(build) {
			result = append(result, cloneBuild(build))
		}
	}
	return result, nil
}

func (s *FileStore) UpdateBuildStatus(_ context.Context, buildID string, status api.BuildStatus, duration *int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for i, build := range s.builds {
		if build.BuildID != buildID {
			continue
		}
		updated := cloneBuild(build)
		updated.Status = status
		if duration != nil {
			value := *duration
			updated.Duration = &value
		}
		builds := append([]*api.BuildLog{}, s.builds...)
		builds[i] = updated
		return s.saveBuildsLocked(builds)
	}
	return ErrNotFound
}

func (s *FileStore) DeleteBuildsBefore(_ context.Context, cutoff time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	kept := make([]*api.BuildLog, 0, len(s.builds))
	for _, build := range s.builds {
		if build.Timestamp.After(cutoff) {
			kept = append(kept, build)
		}
	}
	removed := len(s.builds) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveBuildsLocked(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FileStore) UpsertRepoCredential(_ context.Context, credential *RepoCredential) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	copied := *credential
	credentials := s.copyCredentialsLocked()
	credentials[credential.RepoID] = &copied
	return s.saveCredentialsLocked(credentials)
}

func (s *FileStore) GetRepoCredential(_ context.Context, repoID string) (*RepoCredential, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	credential, ok := s.credentials[repoID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	copied := *credential
	return &copied, nil
}

func (s *FileStore) DeleteRepoCredential(_ context.Context, repoID string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.credentials[repoID]; !ok {
		return nil
	}
	credentials := s.copyCredentialsLocked()
	delete(credentials, repoID)
	return s.saveCredentialsLocked(credentials)
}

func (s *FileStore) copyCredentialsLocked() map[string]*RepoCredential {
	credentials := make(map[string]*RepoCredential, len(s.credentials)+1)
	for repoID, credential := range s.credentials {
		credentials[repoID] = credential
	}
	return credentials
}

func (s *FileStore) Close() {}

func cloneProject(project *api.Project) *api.Project {
	copied := *project
	copied.Repos = make([]api.Repo, len(project.Repos))
	for i, repo := range project.Repos {
		repo.Branches = append([]string{}, repo.Branches...)
		copied.Repos[i] = repo
	}
	return &copied
}

func cloneWebhook(webhook *api.Webhook) *api.Webhook {
	copied := *webhook
	copied.Branches = append([]string{}, webhook.Branches...)
	if webhook.ExpiryDate != nil {
		expiry := *webhook.ExpiryDate
		copied.ExpiryDate = &expiry
	}
	if webhook.LastTriggered != nil {
		last := *webhook.LastTriggered
		copied.LastTriggered = &last
	}
	return &copied
}

func cloneBuild(build *api.BuildLog) *api.BuildLog {
	copied := *build
	if build.Duration != nil {
		duration := *build.Duration
		copied.Duration = &duration
	}
	return &copied
}
