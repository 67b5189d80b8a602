package dispatch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/go-github/v68/github"
)

// Source tags where a push notification came from.
type Source int

const (
	// GenericPush arrived at a registered webhook endpoint.
	GenericPush Source = iota
	// GitHubPush arrived at the signed GitHub endpoint.
	GitHubPush
	// PolledPush was found by the branch watcher.
	PolledPush
)

func (s Source) String() string {
	switch s {
	case GenericPush:
		return "webhook"
	case GitHubPush:
		return "github"
	case PolledPush:
		return "poll"
	}
	return "unknown"
}

const (
	defaultBranch   = "main"
	unknownValue    = "unknown"
	branchRefPrefix = "refs/heads/"
)

var jobNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// PushEvent is a push notification normalized from any source.
type PushEvent struct {
	Source      Source
	Repo        string
	RepoURL     string
	CloneURL    string
	Branch      string
	Commit      string
	Author      string
	Message     string
	ProjectID   string
	ProjectName string
	RepoID      string
	Token       string
	JobName     string
}

// jsonObject is a loosely read JSON object. Lookups of missing keys or
// values of the wrong type yield zero values instead of errors, so one odd
// field never rejects a whole delivery.
type jsonObject map[string]json.RawMessage

func (o jsonObject) object(key string) jsonObject {
	var nested jsonObject
	if raw, ok := o[key]; ok {
		_ = json.Unmarshal(raw, &nested)
	}
	return nested
}

func (o jsonObject) str(key string) string {
	var value string
	if raw, ok := o[key]; ok {
		_ = json.Unmarshal(raw, &value)
	}
	return value
}

// ParseGenericPush derives a PushEvent from a registered webhook delivery.
// Push and pull_request shapes are both read and every field is optional;
// only a body that is not JSON at all is an error. boundRepo is used when
// the payload carries no repository name.
func ParseGenericPush(body []byte, boundRepo string) (PushEvent, error) {
	if !json.Valid(body) {
		return PushEvent{}, errInvalidJSON
	}
	var payload jsonObject
	_ = json.Unmarshal(body, &payload)

	repository := payload.object("repository")
	headCommit := payload.object("head_commit")
	pullRequest := payload.object("pull_request")
	prHead := pullRequest.object("head")

	event := PushEvent{
		Source:   GenericPush,
		Branch:   firstNonEmpty(strings.Replace(payload.str("ref"), branchRefPrefix, "", 1), prHead.str("ref"), defaultBranch),
		Repo:     firstNonEmpty(repository.str("full_name"), boundRepo, unknownValue),
		RepoURL:  firstNonEmpty(repository.str("clone_url"), repository.str("html_url")),
		CloneURL: repository.str("clone_url"),
		Commit:   firstNonEmpty(headCommit.str("id"), prHead.str("sha"), unknownValue),
		Author:   firstNonEmpty(payload.object("pusher").str("name"), pullRequest.object("user").str("login"), unknownValue),
		Message:  firstNonEmpty(headCommit.str("message"), pullRequest.str("title"), "Webhook triggered"),
	}
	return event, nil
}

// ParseGitHubPush decodes a GitHub push delivery with go-github.
func ParseGitHubPush(body []byte) (PushEvent, error) {
	parsed, err := github.ParseWebHook("push", body)
	if err != nil {
		return PushEvent{}, err
	}
	push, ok := parsed.(*github.PushEvent)
	if !ok {
		return PushEvent{}, errUnexpectedPayload
	}

	repo := push.GetRepo()
	event := PushEvent{
		Source:   GitHubPush,
		Branch:   firstNonEmpty(strings.Replace(push.GetRef(), branchRefPrefix, "", 1), defaultBranch),
		Repo:     repo.GetName(),
		RepoURL:  repo.GetHTMLURL(),
		CloneURL: repo.GetCloneURL(),
		Commit:   firstNonEmpty(push.GetHeadCommit().GetID(), unknownValue),
		Message:  firstNonEmpty(push.GetHeadCommit().GetMessage(), "No message"),
		Author:   firstNonEmpty(push.GetPusher().GetName(), "Unknown"),
	}
	return event, nil
}

// GenericJobName joins repo and branch, turning "/" in the repo into "-".
func GenericJobName(repo, branch string) string {
	return strings.ReplaceAll(repo, "/", "-") + "-" + branch
}

// GitHubJobName joins repo and branch, lower-cases the result and replaces
// every character outside [a-zA-Z0-9-] with "-".
func GitHubJobName(repo, branch string) string {
	return strings.ToLower(jobNameInvalid.ReplaceAllString(repo+"-"+branch, "-"))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
