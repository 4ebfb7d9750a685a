package api

import (
	"context"
	"errors"
	"net/http"

	"bagurumba/internal/catalog"
	"bagurumba/internal/observability/logging"
	"bagurumba/internal/reconcile"
	"bagurumba/internal/uploads"
	"bagurumba/internal/webhook"
)

// RequestError is a client-facing failure with a fixed message.
type RequestError struct {
	Status  int
	Message string
}

func (e RequestError) Error() string {
	return e.Message
}

// ValidationError reports a malformed request.
func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, Message: message}
}

// ServiceUnavailableError reports a missing dependency.
func ServiceUnavailableError(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, Message: message}
}

// WriteRequestError writes err using its own status.
func WriteRequestError(w http.ResponseWriter, err RequestError) {
	writeError(w, err.Status, err)
}

var (
	errPaymentRequired    = RequestError{Status: http.StatusForbidden, Message: "payment required before uploading"}
	errUploadSession      = RequestError{Status: http.StatusBadGateway, Message: "failed to create upload URL"}
	errPersist            = RequestError{Status: http.StatusInternalServerError, Message: "failed to save video"}
	errVideoNotFound      = RequestError{Status: http.StatusNotFound, Message: "video not found"}
	errInvalidVideoID     = RequestError{Status: http.StatusBadRequest, Message: "videoId is required"}
	errInvalidStatus      = RequestError{Status: http.StatusBadRequest, Message: "invalid status"}
	errInvalidSignature   = RequestError{Status: http.StatusUnauthorized, Message: "invalid webhook signature"}
	errWebhookDisabled    = RequestError{Status: http.StatusServiceUnavailable, Message: "webhook not configured"}
	errAuthRequired       = RequestError{Status: http.StatusUnauthorized, Message: "authentication required"}
	errInvalidToken       = RequestError{Status: http.StatusUnauthorized, Message: "invalid or expired token"}
	errAccountNotFound    = RequestError{Status: http.StatusUnauthorized, Message: "account not found"}
	errInternal           = RequestError{Status: http.StatusInternalServerError, Message: "internal server error"}
	errStatusNotAvailable = RequestError{Status: http.StatusInternalServerError, Message: "failed to get video status"}
	errListVideos         = RequestError{Status: http.StatusInternalServerError, Message: "failed to fetch videos"}
)

// classify maps domain errors to their public form. fallback is used for
// anything unrecognised.
func classify(err error, fallback RequestError) RequestError {
	var reqErr RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr
	case errors.Is(err, uploads.ErrPaymentRequired):
		return errPaymentRequired
	case errors.Is(err, uploads.ErrUploadSessionFailed):
		return errUploadSession
	case errors.Is(err, uploads.ErrInvalidCorrelationID), errors.Is(err, catalog.ErrInvalidOwner):
		return errInvalidVideoID
	case errors.Is(err, uploads.ErrPersistFailed):
		return errPersist
	case errors.Is(err, reconcile.ErrNotFound):
		return errVideoNotFound
	case errors.Is(err, reconcile.ErrInvalidStatus):
		return errInvalidStatus
	case errors.Is(err, reconcile.ErrInvalidNotification), errors.Is(err, webhook.ErrMalformedPayload):
		return ValidationError("invalid notification payload")
	case errors.Is(err, webhook.ErrInvalidSignature):
		return errInvalidSignature
	case errors.Is(err, webhook.ErrNotConfigured):
		return errWebhookDisabled
	default:
		return fallback
	}
}

// respondError logs err and writes its public form.
func (h *Handler) respondError(ctx context.Context, w http.ResponseWriter, err error, fallback RequestError, msg string) {
	public := classify(err, fallback)
	logger := logging.WithContext(ctx, h.logger())
	if public.Status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err, "status", public.Status)
	} else {
		logger.Info(msg, "error", err, "status", public.Status)
	}
	WriteRequestError(w, public)
}
