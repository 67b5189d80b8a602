package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second

	crumbHeader = "Jenkins-Crumb"
)

var queueItemPattern = regexp.MustCompile(`/queue/item/(\d+)/`)

// Config holds CI server connection settings.
type Config struct {
	BaseURL string
	User    string
	Token   string
	Timeout time.Duration
}

// BuildParams are passed to the job as build parameters.
type BuildParams struct {
	RepoURL string
	Branch  string
	Commit  string
	Message string
}

// Result describes a trigger attempt. Failures are reported here, never as errors.
type Result struct {
	Success     bool
	BuildNumber *int
	QueueURL    string
	Message     string
}

// Client triggers parameterized Jenkins builds.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient returns a client for cfg. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.User != "" && c.cfg.Token != ""
}

// JobURL returns the browser URL of jobName.
func (c *Client) JobURL(jobName string) string {
	return c.cfg.BaseURL + "/job/" + jobPath(jobName)
}

// TriggerBuild queues jobName with params. token is forwarded as GIT_TOKEN for private repos.
func (c *Client) TriggerBuild(ctx context.Context, jobName string, params BuildParams, token string) Result {
	if !c.Configured() {
		c.logger.Warn("Jenkins credentials not configured, build not triggered", "job", jobName)
		return Result{Message: "Jenkins credentials not configured. Set JENKINS_USER and JENKINS_TOKEN"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	query := url.Values{}
	query.Set("GIT_BRANCH", params.Branch)
	query.Set("GIT_COMMIT", params.Commit)
	query.Set("GIT_URL", params.RepoURL)
	query.Set("COMMIT_MSG", params.Message)
	if token != "" {
		query.Set("GIT_TOKEN", token)
	}

	triggerURL := c.JobURL(jobName) + "/buildWithParameters?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, triggerURL, nil)
	if err != nil {
		return Result{Message: fmt.Sprintf("Jenkins trigger failed: %v", err)}
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Token)
	req.Header.Set(crumbHeader, c.crumb(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Jenkins trigger failed", "job", jobName, "error", err)
		return Result{Message: fmt.Sprintf("Jenkins trigger failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Jenkins rejected build trigger", "job", jobName, "status", resp.StatusCode)
		return Result{Message: fmt.Sprintf("Jenkins returned status %d. Check Jenkins configuration.", resp.StatusCode)}
	}

	result := Result{
		Success:  true,
		QueueURL: resp.Header.Get("Location"),
		Message:  fmt.Sprintf("Jenkins job '%s' triggered successfully", jobName),
	}
	result.BuildNumber = extractBuildNumber(result.QueueURL)
	c.logger.Info("Build triggered", "job", jobName, "queue_url", result.QueueURL)
	return result
}

// BuildStatus returns the raw JSON status of a build, or {"status":"unknown"} on any failure.
func (c *Client) BuildStatus(ctx context.Context, jobName string, buildNumber int) map[string]any {
	unknown := map[string]any{"status": "unknown"}
	if !c.Configured() {
		return unknown
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	statusURL := c.JobURL(jobName) + "/" + strconv.Itoa(buildNumber) + "/api/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return unknown
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch build status", "job", jobName, "build", buildNumber, "error", err)
		return unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Failed to fetch build status", "job", jobName, "build", buildNumber, "status", resp.StatusCode)
		return unknown
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		c.logger.Error("Failed to decode build status", "job", jobName, "build", buildNumber, "error", err)
		return unknown
	}
	return status
}

// crumb fetches a CSRF crumb. Any failure yields "" and the trigger proceeds without one.
func (c *Client) crumb(ctx context.Context) string {
	crumbURL := c.cfg.BaseURL + `/crumbIssuer/api/xml?xpath=` + url.QueryEscape(`concat(//crumbRequestField,":",//crumb)`)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, crumbURL, nil)
	if err != nil {
		c.logger.Warn("Could not fetch Jenkins crumb", "error", err)
		return ""
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Could not fetch Jenkins crumb", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Could not fetch Jenkins crumb", "status", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		c.logger.Warn("Could not fetch Jenkins crumb", "error", err)
		return ""
	}
	parts := strings.SplitN(strings.TrimSpace(string(body)), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func extractBuildNumber(queueURL string) *int {
	match := queueItemPattern.FindStringSubmatch(queueURL)
	if match == nil {
		return nil
	}
	number, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &number
}

// jobPath escapes each segment of a possibly folder-qualified job name.
func jobPath(jobName string) string {
	segments := strings.Split(jobName, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
