package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/repoauth"
)

const defaultWatchBranch = "main"

// PollDispatcher receives branch head changes found by polling.
type PollDispatcher interface {
	DispatchPoll(ctx context.Context, project *api.Project, repo api.Repo, branch, commit string) error
}

// HeadLister returns branch name to commit hash for a remote repository.
type HeadLister func(ctx context.Context, repoURL string, auth transport.AuthMethod) (map[string]string, error)

// BranchWatcher polls project repositories and dispatches builds for new branch heads.
type BranchWatcher struct {
	Projects   *ProjectRegistry
	Dispatcher PollDispatcher
	Logger     *slog.Logger
	Interval   time.Duration
	ListHeads  HeadLister

	mu   sync.Mutex
	seen map[string]string
}

// NewBranchWatcher creates a watcher that lists remote heads with go-git.
func NewBranchWatcher(projects *ProjectRegistry, dispatcher PollDispatcher, logger *slog.Logger, interval time.Duration) *BranchWatcher {
	return &BranchWatcher{
		Projects:   projects,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   interval,
		ListHeads:  RemoteHeads,
		seen:       make(map[string]string),
	}
}

// Start begins the polling loop. It returns immediately when the interval is not positive.
func (w *BranchWatcher) Start(ctx context.Context) {
	if w.Interval <= 0 {
		w.Logger.Info("Branch watcher disabled")
		return
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Logger.Info("Branch watcher started", "interval", w.Interval)
	w.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("Branch watcher stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll checks every monitored branch once.
func (w *BranchWatcher) Poll(ctx context.Context) {
	projects, err := w.Projects.List(ctx)
	if err != nil {
		w.Logger.Error("Failed to list projects", "error", err)
		return
	}
	w.Logger.Debug("Registry poll tick", "project_count", len(projects))

	for _, project := range projects {
		for _, repo := range project.Repos {
			if err := w.checkRepo(ctx, project, repo); err != nil {
				w.Logger.Error("Failed to check repo", "project", project.ID, "repo", repo.URL, "error", err)
			}
		}
	}
}

func (w *BranchWatcher) checkRepo(ctx context.Context, project *api.Project, repo api.Repo) error {
	token := ""
	if repo.HasToken {
		var err error
		token, err = w.Projects.RepoToken(ctx, repo.ID)
		if err != nil {
			return fmt.Errorf("failed to load repo token: %w", err)
		}
	}

	heads, err := w.ListHeads(ctx, repo.URL, repoauth.AuthMethod(token))
	if err != nil {
		return fmt.Errorf("ls-remote error: %w", err)
	}

	branches := repo.Branches
	if len(branches) == 0 {
		branches = []string{defaultWatchBranch}
	}

	for _, branch := range branches {
		commit, ok := heads[branch]
		if !ok {
			w.Logger.Debug("Remote branch not found", "repo", repo.URL, "branch", branch)
			continue
		}

		key := repo.ID + "@" + branch
		w.mu.Lock()
		previous, known := w.seen[key]
		w.seen[key] = commit
		w.mu.Unlock()

		if !known {
			w.Logger.Debug("Recorded branch head", "repo", repo.URL, "branch", branch, "commit", commit)
			continue
		}
		if previous == commit {
			continue
		}

		w.Logger.Info("New commit detected", "project", project.ID, "repo", repo.URL, "branch", branch, "commit", commit)
		if err := w.Dispatcher.DispatchPoll(ctx, project, repo, branch, commit); err != nil {
			w.Logger.Error("Failed to dispatch polled push", "repo", repo.URL, "branch", branch, "error", err)
		}
	}
	return nil
}

// RemoteHeads lists branch heads of repoURL without cloning.
func RemoteHeads(ctx context.Context, repoURL string, auth transport.AuthMethod) (map[string]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return nil, err
	}

	heads := make(map[string]string)
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			heads[ref.Name().Short()] = ref.Hash().String()
		}
	}
	return heads, nil
}
