package controller

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/hookci/hookci/internal/store"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)
	dashRun         = regexp.MustCompile(`-+`)
)

// WebhookUpdate carries the mutable webhook fields. Nil fields are left untouched;
// an empty ExpiryDate clears the expiry.
type WebhookUpdate struct {
	Name        *string   `json:"name,omitempty"`
	DisplayName *string   `json:"displayName,omitempty"`
	ProjectID   *string   `json:"projectId,omitempty"`
	RepoID      *string   `json:"repoId,omitempty"`
	Branches    *[]string `json:"branches,omitempty"`
	IsActive    *bool     `json:"isActive,omitempty"`
	ExpiryDate  *string   `json:"expiryDate,omitempty"`
}

// WebhookRegistry manages named inbound webhook endpoints.
type WebhookRegistry struct {
	store store.Store
	now   func() time.Time
}

func NewWebhookRegistry(s store.Store) *WebhookRegistry {
	return &WebhookRegistry{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (r *WebhookRegistry) SetClock(now func() time.Time) {
	r.now = now
}

// Now returns the registry's current time.
func (r *WebhookRegistry) Now() time.Time {
	return r.now()
}

func (r *WebhookRegistry) List(ctx context.Context) ([]*api.Webhook, error) {
	return r.store.ListWebhooks(ctx)
}

// ListActive returns webhooks that are active and not expired.
func (r *WebhookRegistry) ListActive(ctx context.Context) ([]*api.Webhook, error) {
	webhooks, err := r.store.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	active := make([]*api.Webhook, 0, len(webhooks))
	for _, webhook := range webhooks {
		if webhook.IsActive && (webhook.ExpiryDate == nil || webhook.ExpiryDate.After(now)) {
			active = append(active, webhook)
		}
	}
	return active, nil
}

func (r *WebhookRegistry) Get(ctx context.Context, id string) (*api.Webhook, error) {
	return r.store.GetWebhook(ctx, id)
}

// Create registers a new active webhook with zero triggers.
func (r *WebhookRegistry) Create(ctx context.Context, name, projectID, repoID string, expiry *time.Time) (*api.Webhook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("webhook name is required")
	}

	now := r.now()
	id := fmt.Sprintf("%s-%d", SanitizeWebhookName(name), now.UnixMilli())
	webhook := &api.Webhook{
		ID:          id,
		Name:        name,
		DisplayName: name,
		Endpoint:    "/api/webhooks/" + id,
		ProjectID:   strings.TrimSpace(projectID),
		RepoID:      strings.TrimSpace(repoID),
		Branches:    []string{},
		IsActive:    true,
		ExpiryDate:  expiry,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateWebhook(ctx, webhook); err != nil {
		return nil, fmt.Errorf("failed to save webhook: %w", err)
	}
	return webhook, nil
}

// Update applies changes to a webhook. Identity, endpoint and trigger stats are immutable.
func (r *WebhookRegistry) Update(ctx context.Context, id string, update WebhookUpdate) (*api.Webhook, error) {
	webhook, err := r.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, invalidf("webhook name is required")
		}
		webhook.Name = name
	}
	if update.DisplayName != nil {
		webhook.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.ProjectID != nil {
		webhook.ProjectID = strings.TrimSpace(*update.ProjectID)
	}
	if update.RepoID != nil {
		webhook.RepoID = strings.TrimSpace(*update.RepoID)
	}
	if update.Branches != nil {
		webhook.Branches = cleanBranches(*update.Branches)
	}
	if update.IsActive != nil {
		webhook.IsActive = *update.IsActive
	}
	if update.ExpiryDate != nil {
		expiry, err := ParseExpiry(*update.ExpiryDate)
		if err != nil {
			return nil, err
		}
		webhook.ExpiryDate = expiry
	}

	webhook.UpdatedAt = r.now()
	if err := r.store.UpdateWebhook(ctx, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

func (r *WebhookRegistry) Delete(ctx context.Context, id string) error {
	return r.store.DeleteWebhook(ctx, id)
}

// IncrementTrigger records one accepted delivery.
func (r *WebhookRegistry) IncrementTrigger(ctx context.Context, id string) (*api.Webhook, error) {
	return r.store.IncrementWebhookTrigger(ctx, id, r.now())
}

// IsExpired reports whether the webhook expiry lies strictly before now.
func IsExpired(webhook *api.Webhook, now time.Time) bool {
	return webhook.ExpiryDate != nil && webhook.ExpiryDate.Before(now)
}

// Views decorates webhooks with their computed expiry flag.
func Views(webhooks []*api.Webhook, now time.Time) []api.WebhookView {
	views := make([]api.WebhookView, 0, len(webhooks))
	for _, webhook := range webhooks {
		views = append(views, api.WebhookView{Webhook: *webhook, IsExpired: IsExpired(webhook, now)})
	}
	return views
}

// SanitizeWebhookName lower-cases name, maps every character outside [a-z0-9]
// to "-" and collapses dash runs.
func SanitizeWebhookName(name string) string {
	sanitized := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "-")
	return dashRun.ReplaceAllString(sanitized, "-")
}

// ParseExpiry accepts RFC 3339 timestamps or plain dates. Empty input means no expiry.
func ParseExpiry(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			parsed = parsed.UTC()
			return &parsed, nil
		}
	}
	return nil, invalidf("invalid expiry date %q", value)
}
