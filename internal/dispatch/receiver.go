package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v68/github"
	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/controller"
	"github.com/hookci/hookci/internal/store"
)

// maxPayloadBytes matches GitHub's delivery size cap.
const maxPayloadBytes = 25 << 20

const processFailedMessage = "Failed to process webhook"

// Receiver serves the inbound webhook endpoints.
type Receiver struct {
	Pipeline *Pipeline
	Logger   *slog.Logger

	// Secret is the GitHub webhook secret. Empty disables signature checks.
	Secret string
}

// NewReceiver creates a receiver for pipeline.
func NewReceiver(pipeline *Pipeline, secret string, logger *slog.Logger) *Receiver {
	return &Receiver{Pipeline: pipeline, Secret: secret, Logger: logger}
}

// Routes registers the receivers on r, which is expected to be mounted at /api.
func (rc *Receiver) Routes(r chi.Router) {
	r.Get("/webhooks/github", rc.GitHubPing)
	r.Post("/webhooks/github", rc.GitHubPush)
	r.Post("/webhooks/{id}", rc.WebhookPush)
}

type webhookPushResponse struct {
	Success          bool   `json:"success"`
	Webhook          string `json:"webhook"`
	JenkinsTriggered bool   `json:"jenkinsTriggered"`
	JenkinsMessage   string `json:"jenkinsMessage"`
	Message          string `json:"message"`
}

type githubPushResponse struct {
	Success        bool   `json:"success"`
	Repo           string `json:"repo"`
	Branch         string `json:"branch"`
	Commit         string `json:"commit"`
	BuildTriggered bool   `json:"buildTriggered"`
	BuildNumber    *int   `json:"buildNumber"`
}

// WebhookPush handles POST /api/webhooks/{id}
func (rc *Receiver) WebhookPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	webhook, err := rc.Pipeline.Webhooks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			controller.WriteError(w, http.StatusNotFound, "Webhook not found")
			return
		}
		rc.Logger.Error("Failed to load webhook", "id", id, "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}
	if !webhook.IsActive {
		controller.WriteError(w, http.StatusForbidden, "Webhook is inactive")
		return
	}
	if controller.IsExpired(webhook, rc.Pipeline.Webhooks.Now()) {
		controller.WriteError(w, http.StatusForbidden, "Webhook has expired")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		rc.Logger.Error("Failed to read webhook body", "id", id, "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}
	event, err := ParseGenericPush(body, webhook.RepoID)
	if err != nil {
		rc.Logger.Error("Invalid webhook payload", "id", id, "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}

	if _, err := rc.Pipeline.Webhooks.IncrementTrigger(ctx, id); err != nil {
		rc.Logger.Error("Failed to record webhook trigger", "id", id, "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}

	event.ProjectID = webhook.ProjectID
	event.ProjectName = webhook.DisplayName
	if webhook.ProjectID != "" {
		if err := rc.Pipeline.bindProject(ctx, &event, webhook.ProjectID, webhook.RepoID); err != nil && !errors.Is(err, store.ErrNotFound) {
			rc.Logger.Error("Failed to resolve webhook project", "id", id, "project", webhook.ProjectID, "error", err)
			controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
			return
		}
	}
	if event.RepoURL == "" {
		event.RepoURL = event.Repo
	}

	outcome, err := rc.Pipeline.Dispatch(ctx, event)
	if err != nil {
		rc.Logger.Error("Failed to dispatch webhook", "id", id, "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}

	message := "Webhook processed and Jenkins job triggered"
	if !outcome.Result.Success {
		message = "Webhook processed - Jenkins job trigger may have issues (check logs)"
	}
	controller.WriteJSON(w, http.StatusOK, webhookPushResponse{
		Success:          true,
		Webhook:          webhook.DisplayName,
		JenkinsTriggered: outcome.Result.Success,
		JenkinsMessage:   outcome.Result.Message,
		Message:          message,
	})
}

// GitHubPush handles POST /api/webhooks/github
func (rc *Receiver) GitHubPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		rc.Logger.Error("Failed to read GitHub webhook body", "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}

	if rc.Secret == "" {
		rc.Logger.Warn("GITHUB_WEBHOOK_SECRET not set, webhook verification skipped")
	} else if !VerifySignature(rc.Secret, body, r.Header.Get(github.SHA256SignatureHeader)) {
		rc.Logger.Warn("Rejected GitHub webhook with invalid signature", "delivery", github.DeliveryID(r))
		controller.WriteError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	if !json.Valid(body) {
		rc.Logger.Error("Invalid GitHub webhook payload", "delivery", github.DeliveryID(r))
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}

	if github.WebHookType(r) != "push" {
		controller.WriteJSON(w, http.StatusOK, api.APIResponse{Message: "Event ignored - not a push event"})
		return
	}

	event, err := ParseGitHubPush(body)
	if err != nil {
		rc.Logger.Error("Invalid GitHub push payload", "delivery", github.DeliveryID(r), "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}
	rc.Logger.Info("GitHub push received", "repo", event.Repo, "branch", event.Branch, "author", event.Author)

	if err := rc.Pipeline.matchProject(ctx, &event); err != nil {
		rc.Logger.Warn("Failed to match project for push", "repo", event.RepoURL, "error", err)
	}

	outcome, err := rc.Pipeline.Dispatch(ctx, event)
	if err != nil {
		rc.Logger.Error("Failed to dispatch GitHub push", "repo", event.Repo, "error", err)
		controller.WriteError(w, http.StatusInternalServerError, processFailedMessage)
		return
	}

	controller.WriteJSON(w, http.StatusOK, githubPushResponse{
		Success:        true,
		Repo:           event.Repo,
		Branch:         event.Branch,
		Commit:         event.Commit,
		BuildTriggered: outcome.Result.Success,
		BuildNumber:    outcome.Result.BuildNumber,
	})
}

// GitHubPing handles GET /api/webhooks/github
func (rc *Receiver) GitHubPing(w http.ResponseWriter, r *http.Request) {
	controller.WriteJSON(w, http.StatusOK, api.APIResponse{Message: "GitHub webhook endpoint active"})
}

// VerifySignature reports whether header equals "sha256=" plus the lower-case hex
// HMAC-SHA256 of body under secret. The comparison is constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}
