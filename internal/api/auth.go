package api

import (
	"context"
	"net/http"

	"bagurumba/internal/auth"
	"bagurumba/internal/models"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// AuthenticateRequest validates the bearer token and loads the caller's
// profile and payment status from the user directory. The returned error is
// safe to show to clients.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	token := auth.BearerToken(r)
	if token == "" {
		return models.User{}, errAuthRequired
	}
	if h.Tokens == nil || h.Users == nil {
		return models.User{}, ServiceUnavailableError("authentication unavailable")
	}
	claims, err := h.Tokens.Verify(token)
	if err != nil {
		return models.User{}, errInvalidToken
	}
	user, found, err := h.Users.GetUser(r.Context(), claims.UserID())
	if err != nil {
		h.logger().Error("load user failed", "user_id", claims.UserID(), "error", err)
		return models.User{}, errInternal
	}
	if !found {
		return models.User{}, errAccountNotFound
	}
	return user, nil
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteRequestError(w, errAuthRequired)
		return models.User{}, false
	}
	return user, true
}
