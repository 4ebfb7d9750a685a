package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"bagurumba/internal/auth"
	"bagurumba/internal/catalog"
	"bagurumba/internal/models"
	"bagurumba/internal/reconcile"
	"bagurumba/internal/uploads"
	"bagurumba/internal/webhook"
)

// UserDirectory resolves the identity context of authenticated callers.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (models.User, bool, error)
	Ping(ctx context.Context) error
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (auth.Claims, error)
}

// HealthChecker is implemented by dependencies reported on /healthz.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger is implemented by optional infrastructure such as event brokers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WebhookRecorder counts rejected notifications.
type WebhookRecorder interface {
	ObserveWebhookRejected(reason string)
}

// Handler serves the video API.
type Handler struct {
	Users      UserDirectory
	Tokens     TokenVerifier
	Uploads    *uploads.Issuer
	Reconciler *reconcile.Reconciler
	Catalog    *catalog.Service
	Webhook    webhook.Verifier
	Provider   HealthChecker
	// Dependencies lists extra components reported on /healthz by name.
	Dependencies map[string]Pinger
	Metrics      WebhookRecorder
	Logger       *slog.Logger
	MaxBodyBytes int64
	Now          func() time.Time
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h *Handler) observeWebhookRejected(reason string) {
	if h.Metrics != nil {
		h.Metrics.ObserveWebhookRejected(reason)
	}
}

// APIHealth is the liveness probe used by the web client.
func (h *Handler) APIHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// Health reports the state of every dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	components, overall, status := h.componentHealth(ctx)
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
