package controller

import (
	"context"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/store"
)

const DefaultBuildLogLimit = 100

// BuildLog records CI trigger attempts, keeping only the most recent entries.
type BuildLog struct {
	store store.Store
	limit int
	now   func() time.Time
}

func NewBuildLog(s store.Store, limit int) *BuildLog {
	if limit <= 0 {
		limit = DefaultBuildLogLimit
	}
	return &BuildLog{
		store: s,
		limit: limit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append stores build, evicting the oldest entries beyond the limit.
func (b *BuildLog) Append(ctx context.Context, build *api.BuildLog) error {
	if !build.Status.Valid() {
		return invalidf("unknown build status %q", build.Status)
	}
	if build.Timestamp.IsZero() {
		build.Timestamp = b.now()
	}
	return b.store.AppendBuild(ctx, build, b.limit)
}

// Filter returns builds matching every non-empty argument, newest first.
func (b *BuildLog) Filter(ctx context.Context, repo, branch, projectID string) ([]*api.BuildLog, error) {
	return b.store.ListBuilds(ctx, store.BuildFilter{Repo: repo, Branch: branch, ProjectID: projectID})
}

// Stats aggregates the whole log.
func (b *BuildLog) Stats(ctx context.Context) (*api.BuildStats, error) {
	builds, err := b.store.ListBuilds(ctx, store.BuildFilter{})
	if err != nil {
		return nil, err
	}

	stats := &api.BuildStats{
		TotalBuilds: len(builds),
		Repos:       []string{},
		Branches:    []string{},
	}
	seenRepos := map[string]bool{}
	seenBranches := map[string]bool{}
	for _, build := range builds {
		switch build.Status {
		case api.BuildSuccess:
			stats.SuccessCount++
		case api.BuildFailed:
			stats.FailedCount++
		}
		if !seenRepos[build.Repo] {
			seenRepos[build.Repo] = true
			stats.Repos = append(stats.Repos, build.Repo)
		}
		if !seenBranches[build.Branch] {
			seenBranches[build.Branch] = true
			stats.Branches = append(stats.Branches, build.Branch)
		}
	}
	return stats, nil
}

// UpdateStatus patches the newest build with buildID. A nil duration keeps the stored one.
func (b *BuildLog) UpdateStatus(ctx context.Context, buildID string, status api.BuildStatus, duration *int64) error {
	if !status.Valid() {
		return invalidf("unknown build status %q", status)
	}
	return b.store.UpdateBuildStatus(ctx, buildID, status, duration)
}

// ClearOlderThan removes builds whose timestamp is not after now minus days.
func (b *BuildLog) ClearOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, invalidf("days must not be negative")
	}
	cutoff := b.now().AddDate(0, 0, -days)
	return b.store.DeleteBuildsBefore(ctx, cutoff)
}
