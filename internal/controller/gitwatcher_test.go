package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/hookci/hookci/internal/api"
)

type polledPush struct {
	projectID string
	repoID    string
	branch    string
	commit    string
}

type recordingDispatcher struct {
	mu     sync.Mutex
	pushes []polledPush
}

func (d *recordingDispatcher) DispatchPoll(_ context.Context, project *api.Project, repo api.Repo, branch, commit string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes = append(d.pushes, polledPush{projectID: project.ID, repoID: repo.ID, branch: branch, commit: commit})
	return nil
}

func (d *recordingDispatcher) recorded() []polledPush {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]polledPush(nil), d.pushes...)
}

type fakeRemote struct {
	mu    sync.Mutex
	heads map[string]map[string]string
	auths map[string]transport.AuthMethod
	err   error
}

func (f *fakeRemote) set(repoURL, branch, commit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heads[repoURL] == nil {
		f.heads[repoURL] = map[string]string{}
	}
	f.heads[repoURL][branch] = commit
}

func (f *fakeRemote) list(_ context.Context, repoURL string, auth transport.AuthMethod) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.auths[repoURL] = auth
	heads := map[string]string{}
	for branch, commit := range f.heads[repoURL] {
		heads[branch] = commit
	}
	return heads, nil
}

func TestBranchWatcherDispatchesOnlyChangedHeads(t *testing.T) {
	ctx := context.Background()
	projects := NewProjectRegistry(newTestStore(t), newMemorySecrets())
	project, err := projects.Create(ctx, "Shop", "", []api.Repo{
		{ID: "r1", URL: "https://github.com/acme/a", Branches: []string{"main", "release"}},
		{ID: "r2", URL: "https://github.com/acme/b", Token: "ghp_b"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	remote := &fakeRemote{heads: map[string]map[string]string{}, auths: map[string]transport.AuthMethod{}}
	remote.set("https://github.com/acme/a", "main", "a1")
	remote.set("https://github.com/acme/a", "release", "r1")
	remote.set("https://github.com/acme/b", "main", "b1")

	dispatcher := &recordingDispatcher{}
	watcher := NewBranchWatcher(projects, dispatcher, slog.New(slog.NewJSONHandler(io.Discard, nil)), time.Minute)
	watcher.ListHeads = remote.list

	watcher.Poll(ctx)
	if got := dispatcher.recorded(); len(got) != 0 {
		t.Fatalf("first poll must only record heads, got %+v", got)
	}
	if remote.auths["https://github.com/acme/a"] != nil {
		t.Fatalf("public repo must be listed without auth")
	}
	if remote.auths["https://github.com/acme/b"] == nil {
		t.Fatalf("private repo must be listed with token auth")
	}

	remote.set("https://github.com/acme/a", "main", "a2")
	remote.set("https://github.com/acme/b", "main", "b2")
	remote.set("https://github.com/acme/a", "feature", "f1")
	watcher.Poll(ctx)

	got := dispatcher.recorded()
	if len(got) != 2 {
		t.Fatalf("expected 2 dispatches, got %+v", got)
	}
	want := []polledPush{
		{projectID: project.ID, repoID: "r1", branch: "main", commit: "a2"},
		{projectID: project.ID, repoID: "r2", branch: "main", commit: "b2"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	watcher.Poll(ctx)
	if len(dispatcher.recorded()) != 2 {
		t.Fatalf("unchanged heads must not dispatch again")
	}
}

func TestBranchWatcherToleratesListErrors(t *testing.T) {
	ctx := context.Background()
	projects := NewProjectRegistry(newTestStore(t), nil)
	if _, err := projects.Create(ctx, "Shop", "", []api.Repo{{URL: "https://github.com/acme/a"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	remote := &fakeRemote{heads: map[string]map[string]string{}, auths: map[string]transport.AuthMethod{}, err: errors.New("unreachable")}
	dispatcher := &recordingDispatcher{}
	watcher := NewBranchWatcher(projects, dispatcher, slog.New(slog.NewJSONHandler(io.Discard, nil)), time.Minute)
	watcher.ListHeads = remote.list

	watcher.Poll(ctx)
	if len(dispatcher.recorded()) != 0 {
		t.Fatalf("expected no dispatches")
	}
}

func TestBranchWatcherDisabled(t *testing.T) {
	watcher := NewBranchWatcher(nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)), 0)
	done := make(chan struct{})
	go func() {
		watcher.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Start must return immediately when disabled")
	}
}
