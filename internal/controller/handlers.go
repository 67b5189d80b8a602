package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/store"
)

// Handler serves the management API for projects, webhook registrations and builds.
type Handler struct {
	Projects *ProjectRegistry
	Webhooks *WebhookRegistry
	Builds   *BuildLog
	Logger   *slog.Logger
}

// NewHandler creates a new controller handler.
func NewHandler(projects *ProjectRegistry, webhooks *WebhookRegistry, builds *BuildLog, logger *slog.Logger) *Handler {
	return &Handler{
		Projects: projects,
		Webhooks: webhooks,
		Builds:   builds,
		Logger:   logger,
	}
}

// Routes registers the management endpoints on r, which is expected to be mounted at /api.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/projects", h.GetProjects)
	r.Post("/projects", h.ProjectAction)
	r.Get("/projects/{id}", h.GetProject)
	r.Patch("/projects/{id}", h.UpdateProject)
	r.Delete("/projects/{id}", h.DeleteProject)
	r.Post("/projects/{id}/repos", h.AddRepo)
	r.Patch("/projects/{id}/repos/{repoId}", h.UpdateRepo)
	r.Delete("/projects/{id}/repos/{repoId}", h.RemoveRepo)

	r.Get("/webhooks", h.ListWebhooks)
	r.Post("/webhooks", h.WebhookAction)
	r.Get("/webhooks/registrations/{id}", h.GetWebhook)
	r.Patch("/webhooks/registrations/{id}", h.UpdateWebhook)
	r.Delete("/webhooks/registrations/{id}", h.DeleteWebhook)

	r.Get("/builds", h.GetBuilds)
}

type projectActionRequest struct {
	Action    string      `json:"action"`
	ProjectID string      `json:"projectId"`
	Name      *string     `json:"name"`
	Type      *string     `json:"type"`
	Repos     *[]api.Repo `json:"repos"`
	Repo      *api.Repo   `json:"repo"`
	RepoID    string      `json:"repoId"`
	Updates   RepoUpdate  `json:"updates"`
}

type webhookActionRequest struct {
	Action     string        `json:"action"`
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	ProjectID  string        `json:"projectId"`
	RepoID     string        `json:"repoId"`
	ExpiryDate string        `json:"expiryDate"`
	Updates    WebhookUpdate `json:"updates"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// GetProjects handles GET /api/projects, or a single project with ?id=.
func (h *Handler) GetProjects(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		h.writeProject(w, r, id)
		return
	}
	projects, err := h.Projects.List(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to fetch projects", "")
		return
	}
	WriteJSON(w, http.StatusOK, projects)
}

// GetProject handles GET /api/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	h.writeProject(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) writeProject(w http.ResponseWriter, r *http.Request, id string) {
	project, err := h.Projects.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Failed to fetch projects", "Project not found")
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// ProjectAction handles POST /api/projects with an action discriminator.
func (h *Handler) ProjectAction(w http.ResponseWriter, r *http.Request) {
	var req projectActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	var (
		project *api.Project
		err     error
	)
	switch req.Action {
	case "create":
		var repos []api.Repo
		if req.Repos != nil {
			repos = *req.Repos
		}
		name, projectType := "", ""
		if req.Name != nil {
			name = *req.Name
		}
		if req.Type != nil {
			projectType = *req.Type
		}
		project, err = h.Projects.Create(ctx, name, projectType, repos)
		if err != nil {
			h.fail(w, err, "Failed to process request", "Project not found")
			return
		}
		h.Logger.Info("Project created", "id", project.ID, "repos", len(project.Repos))
		WriteJSON(w, http.StatusCreated, project)
		return
	case "update":
		project, err = h.Projects.Update(ctx, req.ProjectID, ProjectUpdate{Name: req.Name, Type: req.Type, Repos: req.Repos})
	case "delete":
		if err := h.Projects.Delete(ctx, req.ProjectID); err != nil {
			h.fail(w, err, "Failed to process request", "Project not found")
			return
		}
		h.Logger.Info("Project deleted", "id", req.ProjectID)
		WriteJSON(w, http.StatusOK, successResponse{Success: true})
		return
	case "addRepo":
		if req.Repo == nil {
			WriteError(w, http.StatusBadRequest, "repo is required")
			return
		}
		project, err = h.Projects.AddRepo(ctx, req.ProjectID, *req.Repo)
	case "removeRepo":
		project, err = h.Projects.RemoveRepo(ctx, req.ProjectID, req.RepoID)
	case "updateRepo":
		project, err = h.Projects.UpdateRepo(ctx, req.ProjectID, req.RepoID, req.Updates)
	default:
		WriteError(w, http.StatusBadRequest, "Unknown action")
		return
	}

	if err != nil {
		h.fail(w, err, "Failed to process request", "Project not found")
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// UpdateProject handles PATCH /api/projects/{id}
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var update ProjectUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	project, err := h.Projects.Update(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		h.fail(w, err, "Failed to process request", "Project not found")
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// DeleteProject handles DELETE /api/projects/{id}
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Projects.Delete(r.Context(), id); err != nil {
		h.fail(w, err, "Failed to process request", "Project not found")
		return
	}
	h.Logger.Info("Project deleted", "id", id)
	WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// AddRepo handles POST /api/projects/{id}/repos
func (h *Handler) AddRepo(w http.ResponseWriter, r *http.Request) {
	var repo api.Repo
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	project, err := h.Projects.AddRepo(r.Context(), chi.URLParam(r, "id"), repo)
	if err != nil {
		h.fail(w, err, "Failed to process request", "Project not found")
		return
	}
	WriteJSON(w, http.StatusCreated, project)
}

// UpdateRepo handles PATCH /api/projects/{id}/repos/{repoId}
func (h *Handler) UpdateRepo(w http.ResponseWriter, r *http.Request) {
	var update RepoUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	project, err := h.Projects.UpdateRepo(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "repoId"), update)
	if err != nil {
		h.fail(w, err, "Failed to process request", "Project not found")
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// RemoveRepo handles DELETE /api/projects/{id}/repos/{repoId}
func (h *Handler) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	project, err := h.Projects.RemoveRepo(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "repoId"))
	if err != nil {
		h.fail(w, err, "Failed to process request", "Project not found")
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// ListWebhooks handles GET /api/webhooks
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.Webhooks.List(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to fetch webhooks", "")
		return
	}
	WriteJSON(w, http.StatusOK, Views(webhooks, h.Webhooks.Now()))
}

// WebhookAction handles POST /api/webhooks with an action discriminator.
func (h *Handler) WebhookAction(w http.ResponseWriter, r *http.Request) {
	var req webhookActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "create":
		expiry, err := ParseExpiry(req.ExpiryDate)
		if err != nil {
			h.fail(w, err, "Failed to process request", "")
			return
		}
		webhook, err := h.Webhooks.Create(ctx, req.Name, req.ProjectID, req.RepoID, expiry)
		if err != nil {
			h.fail(w, err, "Failed to process request", "")
			return
		}
		h.Logger.Info("Webhook created", "id", webhook.ID, "endpoint", webhook.Endpoint)
		WriteJSON(w, http.StatusCreated, webhook)
	case "update":
		webhook, err := h.Webhooks.Update(ctx, req.ID, req.Updates)
		if err != nil {
			h.fail(w, err, "Failed to process request", "Webhook not found")
			return
		}
		WriteJSON(w, http.StatusOK, webhook)
	case "delete":
		if err := h.Webhooks.Delete(ctx, req.ID); err != nil {
			h.fail(w, err, "Failed to process request", "Webhook not found")
			return
		}
		h.Logger.Info("Webhook deleted", "id", req.ID)
		WriteJSON(w, http.StatusOK, successResponse{Success: true})
	default:
		WriteError(w, http.StatusBadRequest, "Invalid action")
	}
}

// GetWebhook handles GET /api/webhooks/registrations/{id}
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.Webhooks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "Failed to fetch webhooks", "Webhook not found")
		return
	}
	WriteJSON(w, http.StatusOK, api.WebhookView{Webhook: *webhook, IsExpired: IsExpired(webhook, h.Webhooks.Now())})
}

// UpdateWebhook handles PATCH /api/webhooks/registrations/{id}
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var update WebhookUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	webhook, err := h.Webhooks.Update(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		h.fail(w, err, "Failed to process request", "Webhook not found")
		return
	}
	WriteJSON(w, http.StatusOK, webhook)
}

// DeleteWebhook handles DELETE /api/webhooks/registrations/{id}
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Webhooks.Delete(r.Context(), id); err != nil {
		h.fail(w, err, "Failed to process request", "Webhook not found")
		return
	}
	h.Logger.Info("Webhook deleted", "id", id)
	WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// GetBuilds handles GET /api/builds?repo=&branch=&project=&type=logs|stats
func (h *Handler) GetBuilds(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("type") == "stats" {
		stats, err := h.Builds.Stats(r.Context())
		if err != nil {
			h.fail(w, err, "Failed to fetch builds", "")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
		return
	}

	builds, err := h.Builds.Filter(r.Context(), query.Get("repo"), query.Get("branch"), query.Get("project"))
	if err != nil {
		h.fail(w, err, "Failed to fetch builds", "")
		return
	}
	WriteJSON(w, http.StatusOK, builds)
}

// fail maps err to a status code: not found, validation, or an internal failure that is logged.
func (h *Handler) fail(w http.ResponseWriter, err error, internalMessage, notFoundMessage string) {
	switch {
	case errors.Is(err, store.ErrNotFound) && notFoundMessage != "":
		WriteError(w, http.StatusNotFound, notFoundMessage)
	case errors.Is(err, ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error(internalMessage, "error", err)
		WriteError(w, http.StatusInternalServerError, internalMessage)
	}
}

// WriteJSON writes v as a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, api.ErrorResponse{Error: message})
}
