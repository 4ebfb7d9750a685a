package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bagurumba/internal/webhook"
)

func webhookSignature(env *testEnv, body []byte) string {
	return webhook.SignatureHeaderValue(testWebhookSecret, env.now, body)
}

func bearerRequest(t *testing.T, env *testEnv, userID string) *http.Request {
	t.Helper()
	token, err := env.tokens.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/videos/my-videos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// TestAuthenticateRequestResolvesUser verifies a valid token loads the
// caller's directory entry including payment status.
func TestAuthenticateRequestResolvesUser(t *testing.T) {
	env := newTestEnv(t)
	user, err := env.handler.AuthenticateRequest(bearerRequest(t, env, env.paid.ID))
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if user.ID != env.paid.ID || !user.HasPaid() {
		t.Fatalf("unexpected user %+v", user)
	}
}

// TestAuthenticateRequestFailures verifies each failure maps to 401.
func TestAuthenticateRequestFailures(t *testing.T) {
	env := newTestEnv(t)

	garbage := httptest.NewRequest(http.MethodGet, "/", nil)
	garbage.Header.Set("Authorization", "Bearer not-a-token")

	cases := map[string]struct {
		req  *http.Request
		want RequestError
	}{
		"missing":      {req: httptest.NewRequest(http.MethodGet, "/", nil), want: errAuthRequired},
		"garbage":      {req: garbage, want: errInvalidToken},
		"unknown user": {req: bearerRequest(t, env, "ghost"), want: errAccountNotFound},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.handler.AuthenticateRequest(tc.req)
			var reqErr RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %v", err)
			}
			if reqErr != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, reqErr)
			}
			if reqErr.Status != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", reqErr.Status)
			}
		})
	}
}

// TestUserContextRoundTrip verifies the context helpers.
func TestUserContextRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), env.paid)
	user, ok := UserFromContext(req.Context())
	if !ok || user.ID != env.paid.ID {
		t.Fatalf("expected user in context, got %+v %v", user, ok)
	}
	if _, ok := UserFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatalf("expected no user in bare context")
	}
}
