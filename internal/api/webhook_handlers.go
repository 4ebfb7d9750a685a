package api

import (
	"errors"
	"net/http"

	"bagurumba/internal/observability/logging"
	"bagurumba/internal/reconcile"
	"bagurumba/internal/webhook"
)

// WebhookStatus accepts signed status notifications from the provider.
func (h *Handler) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.Webhook.Configured() {
		h.observeWebhookRejected("not_configured")
		h.respondError(r.Context(), w, webhook.ErrNotConfigured, errWebhookDisabled, "webhook rejected")
		return
	}
	if h.Reconciler == nil {
		WriteRequestError(w, ServiceUnavailableError("status unavailable"))
		return
	}

	body, err := readBody(w, r, h.MaxBodyBytes)
	if err != nil {
		h.observeWebhookRejected("payload")
		WriteRequestError(w, ValidationError("invalid notification payload"))
		return
	}
	if err := h.Webhook.Verify(r.Header, body); err != nil {
		h.observeWebhookRejected("signature")
		h.respondError(r.Context(), w, err, errInvalidSignature, "webhook rejected")
		return
	}
	notification, err := webhook.DecodeNotification(body)
	if err != nil {
		h.observeWebhookRejected("payload")
		h.respondError(r.Context(), w, err, ValidationError("invalid notification payload"), "webhook rejected")
		return
	}

	ctx := logging.ContextWithCorrelationID(r.Context(), notification.CorrelationID)
	if _, err := h.Reconciler.PushStatus(ctx, notification.CorrelationID, notification.Status); err != nil {
		if errors.Is(err, reconcile.ErrInvalidNotification) {
			h.observeWebhookRejected("status")
		}
		h.respondError(ctx, w, err, errInternal, "apply notification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
