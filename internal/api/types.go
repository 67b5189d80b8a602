package api

import "time"

// Project types.
const (
	ProjectSingle   = "single"
	ProjectMultiple = "multiple"
)

// BuildStatus is the lifecycle state of a recorded build.
type BuildStatus string

const (
	BuildTriggered BuildStatus = "triggered"
	BuildRunning   BuildStatus = "running"
	BuildSuccess   BuildStatus = "success"
	BuildFailed    BuildStatus = "failed"
)

// Valid reports whether s is one of the known build states.
func (s BuildStatus) Valid() bool {
	switch s {
	case BuildTriggered, BuildRunning, BuildSuccess, BuildFailed:
		return true
	}
	return false
}

// Project groups one or more repositories whose pushes trigger CI builds.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // "single" or "multiple"
	Repos     []Repo    `json:"repos"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repo is a remote source repository owned by a Project.
// Token is accepted on input only; stored tokens live in the credential vault.
type Repo struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Branches  []string `json:"branches"`
	Token     string   `json:"token,omitempty"`
	HasToken  bool     `json:"hasToken"`
	IsPrivate bool     `json:"isPrivate"`
}

// Webhook is a named inbound endpoint, optionally scoped to a project/repo.
type Webhook struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DisplayName   string     `json:"displayName"`
	Endpoint      string     `json:"endpoint"`
	ProjectID     string     `json:"projectId,omitempty"`
	RepoID        string     `json:"repoId,omitempty"`
	Branches      []string   `json:"branches"`
	IsActive      bool       `json:"isActive"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
	Triggers      int        `json:"triggers"`
}

// WebhookView is a Webhook with its computed expiry flag, as listed by the API.
type WebhookView struct {
	Webhook
	IsExpired bool `json:"isExpired"`
}

// BuildLog records one CI trigger attempt.
type BuildLog struct {
	Repo        string      `json:"repo"`
	Branch      string      `json:"branch"`
	Commit      string      `json:"commit"`
	Author      string      `json:"author"`
	Message     string      `json:"message"`
	BuildID     string      `json:"buildId"`
	Status      BuildStatus `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
	JenkinsURL  string      `json:"jenkinsUrl"`
	Duration    *int64      `json:"duration,omitempty"` // milliseconds
	ProjectID   string      `json:"projectId,omitempty"`
	ProjectName string      `json:"projectName,omitempty"`
}

// BuildStats aggregates the build log.
type BuildStats struct {
	TotalBuilds  int      `json:"totalBuilds"`
	SuccessCount int      `json:"successCount"`
	FailedCount  int      `json:"failedCount"`
	Repos        []string `json:"repos"`
	Branches     []string `json:"branches"`
}

// APIResponse is a standard wrapper for API responses.
type APIResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
