package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/controller"
	"github.com/hookci/hookci/internal/jenkins"
	"github.com/hookci/hookci/internal/repoauth"
	"github.com/hookci/hookci/internal/store"
)

var (
	errUnexpectedPayload = errors.New("unexpected webhook payload type")
	errInvalidJSON       = errors.New("webhook payload is not valid JSON")
)

// Trigger starts CI builds.
type Trigger interface {
	TriggerBuild(ctx context.Context, jobName string, params jenkins.BuildParams, token string) jenkins.Result
	JobURL(jobName string) string
}

// Outcome is the result of dispatching one push.
type Outcome struct {
	Result jenkins.Result
	Build  *api.BuildLog
}

// Pipeline turns normalized push events into CI triggers and build log entries.
type Pipeline struct {
	Projects *controller.ProjectRegistry
	Webhooks *controller.WebhookRegistry
	Builds   *controller.BuildLog
	Jenkins  Trigger
	Logger   *slog.Logger

	// JobOverride replaces the derived job name for webhook and polled pushes.
	JobOverride string

	now func() time.Time
}

// NewPipeline creates a pipeline that shares the webhook registry's clock.
func NewPipeline(projects *controller.ProjectRegistry, webhooks *controller.WebhookRegistry, builds *controller.BuildLog, trigger Trigger, jobOverride string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Projects:    projects,
		Webhooks:    webhooks,
		Builds:      builds,
		Jenkins:     trigger,
		Logger:      logger,
		JobOverride: jobOverride,
		now:         webhooks.Now,
	}
}

// Dispatch triggers the CI job for event and records the attempt.
// CI failures are reported in the outcome; only persistence errors are returned.
func (p *Pipeline) Dispatch(ctx context.Context, event PushEvent) (*Outcome, error) {
	if event.JobName == "" {
		event.JobName = p.jobName(event)
	}

	p.Logger.Info("Dispatching push",
		"source", event.Source.String(),
		"repo", event.Repo,
		"branch", event.Branch,
		"commit", event.Commit,
		"job", event.JobName,
	)

	result := p.Jenkins.TriggerBuild(ctx, event.JobName, jenkins.BuildParams{
		RepoURL: event.RepoURL,
		Branch:  event.Branch,
		Commit:  event.Commit,
		Message: event.Message,
	}, event.Token)

	now := p.now()
	status := api.BuildTriggered
	if !result.Success {
		status = api.BuildFailed
	}

	build := &api.BuildLog{
		Repo:        event.Repo,
		Branch:      event.Branch,
		Commit:      event.Commit,
		Author:      event.Author,
		Message:     event.Message,
		BuildID:     p.buildID(event.Source, result, now),
		Status:      status,
		Timestamp:   now,
		JenkinsURL:  p.jenkinsURL(event, result),
		ProjectID:   event.ProjectID,
		ProjectName: event.ProjectName,
	}
	if err := p.Builds.Append(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to record build: %w", err)
	}

	if !result.Success {
		p.Logger.Warn("Build not triggered", "job", event.JobName, "reason", result.Message)
	}
	return &Outcome{Result: result, Build: build}, nil
}

// DispatchPoll handles a branch head change found by the branch watcher.
func (p *Pipeline) DispatchPoll(ctx context.Context, project *api.Project, repo api.Repo, branch, commit string) error {
	event := PushEvent{
		Source:      PolledPush,
		Repo:        pollRepoName(repo.URL),
		RepoURL:     repo.URL,
		Branch:      branch,
		Commit:      commit,
		Author:      "poller",
		Message:     "Detected new commit",
		ProjectID:   project.ID,
		ProjectName: project.Name,
		RepoID:      repo.ID,
	}
	if repo.HasToken {
		token, err := p.Projects.RepoToken(ctx, repo.ID)
		if err != nil {
			return fmt.Errorf("failed to load repo token: %w", err)
		}
		event.Token = token
	}

	_, err := p.Dispatch(ctx, event)
	return err
}

// bindProject fills project fields and the repo token from the project owning repoID.
func (p *Pipeline) bindProject(ctx context.Context, event *PushEvent, projectID, repoID string) error {
	project, err := p.Projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	event.ProjectID = project.ID
	event.ProjectName = project.Name

	for _, repo := range project.Repos {
		if repo.ID != repoID {
			continue
		}
		event.RepoID = repo.ID
		if event.RepoURL == "" {
			event.RepoURL = repo.URL
		}
		return p.loadToken(ctx, event, repo)
	}
	return nil
}

// matchProject looks up the project owning the pushed repository by URL.
func (p *Pipeline) matchProject(ctx context.Context, event *PushEvent) error {
	project, repo, err := p.Projects.FindByRepoURL(ctx, event.RepoURL, event.CloneURL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	event.ProjectID = project.ID
	event.ProjectName = project.Name
	event.RepoID = repo.ID
	return p.loadToken(ctx, event, *repo)
}

func (p *Pipeline) loadToken(ctx context.Context, event *PushEvent, repo api.Repo) error {
	if !repo.HasToken {
		return nil
	}
	token, err := p.Projects.RepoToken(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("failed to load repo token: %w", err)
	}
	event.Token = token
	return nil
}

func (p *Pipeline) jobName(event PushEvent) string {
	if event.Source == GitHubPush {
		return GitHubJobName(event.Repo, event.Branch)
	}
	if p.JobOverride != "" {
		return p.JobOverride
	}
	return GenericJobName(event.Repo, event.Branch)
}

// buildID is synthesized for webhook pushes and taken from the CI queue otherwise.
func (p *Pipeline) buildID(source Source, result jenkins.Result, now time.Time) string {
	if source == GenericPush {
		return "build-" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	if result.BuildNumber != nil {
		return strconv.Itoa(*result.BuildNumber)
	}
	return "pending"
}

func (p *Pipeline) jenkinsURL(event PushEvent, result jenkins.Result) string {
	switch event.Source {
	case GenericPush:
		return p.Jenkins.JobURL(event.JobName)
	case GitHubPush:
		return result.QueueURL
	}
	if result.QueueURL != "" {
		return result.QueueURL
	}
	return p.Jenkins.JobURL(event.JobName)
}

func pollRepoName(repoURL string) string {
	if owner, repo, ok := repoauth.ParseGitHubURL(repoURL); ok {
		return owner + "/" + repo
	}
	return repoauth.ExtractRepoName(repoURL)
}
