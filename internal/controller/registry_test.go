package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/store"
)

type memorySecrets struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemorySecrets() *memorySecrets {
	return &memorySecrets{tokens: map[string]string{}}
}

func (m *memorySecrets) SetToken(_ context.Context, repoID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		delete(m.tokens, repoID)
		return nil
	}
	m.tokens[repoID] = token
	return nil
}

func (m *memorySecrets) Token(_ context.Context, repoID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[repoID], nil
}

func (m *memorySecrets) DeleteToken(_ context.Context, repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, repoID)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func TestProjectCreateMovesTokensToSecrets(t *testing.T) {
	ctx := context.Background()
	secrets := newMemorySecrets()
	registry := NewProjectRegistry(newTestStore(t), secrets)

	project, err := registry.Create(ctx, "  Shop  ", "", []api.Repo{
		{URL: "https://github.com/acme/frontend.git", Branches: []string{"main", " ", "develop"}},
		{URL: "https://github.com/acme/backend.git", Token: "ghp_backend", IsPrivate: true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if project.Name != "Shop" || project.Type != api.ProjectSingle {
		t.Fatalf("unexpected project %+v", project)
	}
	if len(project.Repos) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(project.Repos))
	}
	if got := project.Repos[0].Branches; len(got) != 2 || got[0] != "main" || got[1] != "develop" {
		t.Fatalf("unexpected branches %v", got)
	}

	backend := project.Repos[1]
	if backend.Token != "" || !backend.HasToken {
		t.Fatalf("expected token to be moved out of the record, got %+v", backend)
	}
	token, err := registry.RepoToken(ctx, backend.ID)
	if err != nil || token != "ghp_backend" {
		t.Fatalf("expected stored token, got %q (%v)", token, err)
	}

	loaded, err := registry.Get(ctx, project.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Repos[0].URL != "https://github.com/acme/frontend.git" || loaded.Repos[1].URL != "https://github.com/acme/backend.git" {
		t.Fatalf("repo order not preserved: %+v", loaded.Repos)
	}
}

func TestProjectCreateValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		secrets SecretStore
		pname   string
		ptype   string
		repos   []api.Repo
	}{
		{name: "empty name", secrets: newMemorySecrets(), pname: " "},
		{name: "unknown type", secrets: newMemorySecrets(), pname: "x", ptype: "mono"},
		{name: "missing url", secrets: newMemorySecrets(), pname: "x", repos: []api.Repo{{}}},
		{name: "token on ssh url", secrets: newMemorySecrets(), pname: "x", repos: []api.Repo{{URL: "git@github.com:acme/api.git", Token: "t"}}},
		{name: "token without secrets", pname: "x", repos: []api.Repo{{URL: "https://github.com/acme/api", Token: "t"}}},
		{name: "duplicate repo id", secrets: newMemorySecrets(), pname: "x", repos: []api.Repo{
			{ID: "r1", URL: "https://github.com/acme/a"},
			{ID: "r1", URL: "https://github.com/acme/b"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewProjectRegistry(newTestStore(t), tt.secrets)
			_, err := registry.Create(ctx, tt.pname, tt.ptype, tt.repos)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestProjectUpdateKeepsExistingTokens(t *testing.T) {
	ctx := context.Background()
	secrets := newMemorySecrets()
	registry := NewProjectRegistry(newTestStore(t), secrets)

	project, err := registry.Create(ctx, "Shop", api.ProjectMultiple, []api.Repo{
		{ID: "r1", URL: "https://github.com/acme/a", Token: "tok-a"},
		{ID: "r2", URL: "https://github.com/acme/b", Token: "tok-b"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "Storefront"
	repos := []api.Repo{{ID: "r1", URL: "https://github.com/acme/a", Branches: []string{"release"}}}
	updated, err := registry.Update(ctx, project.ID, ProjectUpdate{Name: &name, Repos: &repos})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Storefront" || updated.Type != api.ProjectMultiple {
		t.Fatalf("unexpected project %+v", updated)
	}
	if len(updated.Repos) != 1 || !updated.Repos[0].HasToken {
		t.Fatalf("expected r1 to keep its token flag, got %+v", updated.Repos)
	}
	if token, _ := secrets.Token(ctx, "r1"); token != "tok-a" {
		t.Fatalf("expected r1 token to survive, got %q", token)
	}
	if token, _ := secrets.Token(ctx, "r2"); token != "" {
		t.Fatalf("expected r2 token to be dropped, got %q", token)
	}
}

func TestProjectIgnoresClientTokenFlag(t *testing.T) {
	ctx := context.Background()
	registry := NewProjectRegistry(newTestStore(t), newMemorySecrets())

	project, err := registry.Create(ctx, "Shop", api.ProjectMultiple, []api.Repo{
		{ID: "r1", URL: "https://github.com/acme/a", HasToken: true},
		{ID: "r2", URL: "https://github.com/acme/b", Token: "tok-b"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if project.Repos[0].HasToken {
		t.Fatalf("repo without a token must not claim one: %+v", project.Repos[0])
	}

	repos := []api.Repo{
		{ID: "r2", URL: "https://github.com/acme/b"},
		{ID: "r3", URL: "https://github.com/acme/c", HasToken: true},
	}
	updated, err := registry.Update(ctx, project.ID, ProjectUpdate{Repos: &repos})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.Repos[0].HasToken {
		t.Fatalf("expected r2 to keep its stored token flag")
	}
	if updated.Repos[1].HasToken {
		t.Fatalf("new repo without a token must not claim one: %+v", updated.Repos[1])
	}

	added, err := registry.AddRepo(ctx, project.ID, api.Repo{ID: "r4", URL: "https://github.com/acme/d", HasToken: true})
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	if added.Repos[len(added.Repos)-1].HasToken {
		t.Fatalf("added repo without a token must not claim one")
	}
}

func TestProjectRepoOperations(t *testing.T) {
	ctx := context.Background()
	secrets := newMemorySecrets()
	registry := NewProjectRegistry(newTestStore(t), secrets)

	project, err := registry.Create(ctx, "Shop", "", []api.Repo{{ID: "r1", URL: "https://github.com/acme/a"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	project, err = registry.AddRepo(ctx, project.ID, api.Repo{ID: "r2", URL: "https://github.com/acme/b", Token: "tok-b"})
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	if len(project.Repos) != 2 || project.Repos[1].ID != "r2" {
		t.Fatalf("unexpected repos %+v", project.Repos)
	}
	if _, err := registry.AddRepo(ctx, project.ID, api.Repo{ID: "r2", URL: "https://github.com/acme/c"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate repo to be rejected, got %v", err)
	}

	branches := []string{"main", "hotfix"}
	private := true
	project, err = registry.UpdateRepo(ctx, project.ID, "r1", RepoUpdate{Branches: &branches, IsPrivate: &private})
	if err != nil {
		t.Fatalf("UpdateRepo: %v", err)
	}
	if repo := project.Repos[0]; len(repo.Branches) != 2 || !repo.IsPrivate {
		t.Fatalf("unexpected repo %+v", repo)
	}

	empty := ""
	project, err = registry.UpdateRepo(ctx, project.ID, "r2", RepoUpdate{Token: &empty})
	if err != nil {
		t.Fatalf("UpdateRepo clear token: %v", err)
	}
	if project.Repos[1].HasToken {
		t.Fatalf("expected token flag to be cleared")
	}
	if token, _ := secrets.Token(ctx, "r2"); token != "" {
		t.Fatalf("expected token to be cleared, got %q", token)
	}

	if _, err := registry.UpdateRepo(ctx, project.ID, "nope", RepoUpdate{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	project, err = registry.RemoveRepo(ctx, project.ID, "r1")
	if err != nil {
		t.Fatalf("RemoveRepo: %v", err)
	}
	if len(project.Repos) != 1 || project.Repos[0].ID != "r2" {
		t.Fatalf("unexpected repos %+v", project.Repos)
	}
}

func TestProjectDeleteDropsTokens(t *testing.T) {
	ctx := context.Background()
	secrets := newMemorySecrets()
	registry := NewProjectRegistry(newTestStore(t), secrets)

	project, err := registry.Create(ctx, "Shop", "", []api.Repo{{ID: "r1", URL: "https://github.com/acme/a", Token: "tok"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := registry.Delete(ctx, project.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := registry.Get(ctx, project.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if token, _ := secrets.Token(ctx, "r1"); token != "" {
		t.Fatalf("expected token to be dropped")
	}
	if err := registry.Delete(ctx, project.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFindByRepoURL(t *testing.T) {
	ctx := context.Background()
	registry := NewProjectRegistry(newTestStore(t), nil)

	project, err := registry.Create(ctx, "Shop", "", []api.Repo{
		{ID: "r1", URL: "https://github.com/acme/a"},
		{ID: "r2", URL: "https://github.com/Acme/B.git"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, repo, err := registry.FindByRepoURL(ctx, "", "https://github.com/acme/b")
	if err != nil {
		t.Fatalf("FindByRepoURL: %v", err)
	}
	if found.ID != project.ID || repo.ID != "r2" {
		t.Fatalf("unexpected match %s/%s", found.ID, repo.ID)
	}

	if _, _, err := registry.FindByRepoURL(ctx, "https://github.com/acme/zzz"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWebhookRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	registry := NewWebhookRegistry(newTestStore(t))
	registry.SetClock(func() time.Time { return now })

	webhook, err := registry.Create(ctx, "My  GitHub Hook!", "proj_1", "repo_1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	wantID := "my-github-hook--1777888800000"
	if webhook.ID != wantID {
		t.Fatalf("expected id %s, got %s", wantID, webhook.ID)
	}
	if webhook.Endpoint != "/api/webhooks/"+wantID {
		t.Fatalf("unexpected endpoint %s", webhook.Endpoint)
	}
	if !webhook.IsActive || webhook.Triggers != 0 || webhook.DisplayName != "My  GitHub Hook!" {
		t.Fatalf("unexpected webhook %+v", webhook)
	}

	now = now.Add(time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := registry.IncrementTrigger(ctx, webhook.ID); err != nil {
			t.Fatalf("IncrementTrigger: %v", err)
		}
	}
	stored, err := registry.Get(ctx, webhook.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Triggers != 2 || stored.LastTriggered == nil || !stored.LastTriggered.Equal(now) {
		t.Fatalf("unexpected trigger stats %+v", stored)
	}

	inactive := false
	if _, err := registry.Update(ctx, webhook.ID, WebhookUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	active, err := registry.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active webhooks, got %d", len(active))
	}

	if err := registry.Delete(ctx, webhook.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := registry.IncrementTrigger(ctx, webhook.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSanitizeWebhookName(t *testing.T) {
	tests := map[string]string{
		"Deploy":            "deploy",
		"My GitHub Hook":    "my-github-hook",
		"a///b":             "a-b",
		"Release_v2.0 (EU)": "release-v2-0-eu-",
	}
	for input, want := range tests {
		if got := SanitizeWebhookName(input); got != want {
			t.Errorf("SanitizeWebhookName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	if IsExpired(&api.Webhook{}, now) {
		t.Fatalf("webhook without expiry must not expire")
	}
	if !IsExpired(&api.Webhook{ExpiryDate: &past}, now) {
		t.Fatalf("expected past expiry to be expired")
	}
	if IsExpired(&api.Webhook{ExpiryDate: &now}, now) {
		t.Fatalf("expiry equal to now is not strictly before now")
	}
	if IsExpired(&api.Webhook{ExpiryDate: &future}, now) {
		t.Fatalf("future expiry must not be expired")
	}
}

func TestParseExpiry(t *testing.T) {
	if expiry, err := ParseExpiry(""); err != nil || expiry != nil {
		t.Fatalf("expected nil expiry, got %v (%v)", expiry, err)
	}
	expiry, err := ParseExpiry("2026-07-01")
	if err != nil {
		t.Fatalf("ParseExpiry: %v", err)
	}
	if !expiry.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", expiry)
	}
	if _, err := ParseExpiry("next week"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuildLogStatsAndRetention(t *testing.T) {
	ctx := context.Background()
	builds := NewBuildLog(newTestStore(t), 0)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	builds.now = func() time.Time { return now }

	entries := []*api.BuildLog{
		{Repo: "acme/a", Branch: "main", BuildID: "b1", Status: api.BuildSuccess, Timestamp: now.AddDate(0, 0, -40)},
		{Repo: "acme/b", Branch: "main", BuildID: "b2", Status: api.BuildFailed, Timestamp: now.AddDate(0, 0, -10)},
		{Repo: "acme/a", Branch: "dev", BuildID: "b3", Status: api.BuildSuccess, ProjectID: "p1"},
	}
	for _, entry := range entries {
		if err := builds.Append(ctx, entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := builds.Append(ctx, &api.BuildLog{BuildID: "bad", Status: "exploded"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid status to be rejected, got %v", err)
	}

	stats, err := builds.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalBuilds != 3 || stats.SuccessCount != 2 || stats.FailedCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.Repos) != 2 || len(stats.Branches) != 2 {
		t.Fatalf("unexpected unique sets %+v", stats)
	}

	filtered, err := builds.Filter(ctx, "acme/a", "", "p1")
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(filtered) != 1 || filtered[0].BuildID != "b3" {
		t.Fatalf("unexpected filter result %+v", filtered)
	}

	duration := int64(1500)
	if err := builds.UpdateStatus(ctx, "b2", api.BuildSuccess, &duration); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	removed, err := builds.ClearOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("ClearOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed build, got %d", removed)
	}
	remaining, _ := builds.Filter(ctx, "", "", "")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining builds, got %d", len(remaining))
	}
	for _, build := range remaining {
		if build.BuildID == "b2" && (build.Status != api.BuildSuccess || build.Duration == nil || *build.Duration != 1500) {
			t.Fatalf("status update not applied: %+v", build)
		}
	}
}
