package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bagurumba/internal/api"
	"bagurumba/internal/auth"
	"bagurumba/internal/catalog"
	"bagurumba/internal/models"
	"bagurumba/internal/observability/metrics"
	"bagurumba/internal/provider"
	"bagurumba/internal/reconcile"
	"bagurumba/internal/storage"
	"bagurumba/internal/uploads"
)

const testSecret = "server-test-secret"

type stubProvider struct{}

func (stubProvider) MintUploadTarget(context.Context, provider.UploadConstraints, provider.UploadMetadata) (provider.UploadTarget, error) {
	return provider.UploadTarget{UploadURL: "https://upload.example.com/x", CorrelationID: "vid-x"}, nil
}

func (stubProvider) QueryJobState(context.Context, string) (provider.JobState, error) {
	return provider.JobState{}, provider.ErrJobNotFound
}

func (stubProvider) HealthCheck(context.Context) error { return nil }

type testDeps struct {
	store  storage.Repository
	tokens *auth.Issuer
	user   models.User
}

func (d testDeps) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := d.tokens.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) (*api.Handler, testDeps) {
	t.Helper()
	store, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	user, err := store.UpsertUser(context.Background(), storage.UpsertUserParams{
		ID:            "user-1",
		DisplayName:   "Tester",
		Category:      "dance",
		PaymentStatus: models.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	logger := discardLogger()
	issuer, err := uploads.New(uploads.Config{Provider: stubProvider{}, Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("uploads.New: %v", err)
	}
	reconciler, err := reconcile.New(reconcile.Config{Provider: stubProvider{}, Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	tokens, err := auth.NewIssuer(testSecret, "")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	handler := &api.Handler{
		Users:      store,
		Tokens:     verifier,
		Uploads:    issuer,
		Reconciler: reconciler,
		Catalog:    catalog.New(store, 0),
		Provider:   stubProvider{},
		Logger:     logger,
	}
	return handler, testDeps{store: store, tokens: tokens, user: user}
}

func newTestServer(t *testing.T, cfg Config) (*Server, testDeps) {
	t.Helper()
	handler, deps := newTestHandler(t)
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv, deps
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestNewRejectsInvalidTrustedProxy(t *testing.T) {
	handler, _ := newTestHandler(t)
	if _, err := New(handler, Config{RateLimit: RateLimitConfig{TrustedProxies: []string{"not-a-cidr"}}}); err == nil {
		t.Fatal("expected error for invalid trusted proxy")
	}
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	handler, deps := newTestHandler(t)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		ctxUser, ok := api.UserFromContext(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		if ctxUser.ID != deps.user.ID {
			t.Fatalf("expected user %s, got %s", deps.user.ID, ctxUser.ID)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/my-videos", nil)
	req.Header.Set("Authorization", "Bearer "+deps.token(t, deps.user.ID))
	rec := httptest.NewRecorder()

	authMiddleware(handler, nil, nil, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload-url", nil)
	rec := httptest.NewRecorder()

	authMiddleware(handler, nil, nil, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestAuthMiddlewareRejectsUnknownAccount(t *testing.T) {
	handler, deps := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/my-videos", nil)
	req.Header.Set("Authorization", "Bearer "+deps.token(t, "deleted-user"))
	rec := httptest.NewRecorder()

	authMiddleware(handler, nil, nil, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareSkipsPublicRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)
	for _, path := range []string{"/healthz", "/metrics", "/api/health", "/api/videos/all", "/api/videos/webhook/status"} {
		t.Run(path, func(t *testing.T) {
			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusNoContent)
			})
			rec := httptest.NewRecorder()
			authMiddleware(handler, nil, nil, next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if !nextCalled {
				t.Fatalf("expected %s to bypass authentication", path)
			}
		})
	}
}

func TestClientIPResolverIgnoresForwardedByDefault(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.10" {
		t.Fatalf("expected remote addr, got %q", ip)
	}
	if source != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source)
	}
}

func TestClientIPResolverTrustsForwardedWhenEnabled(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustForwardedHeaders: true})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1111"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.5" {
		t.Fatalf("expected first forwarded ip, got %q", ip)
	}
	if source != ipSourceXForwardedFor {
		t.Fatalf("expected source %q, got %q", ipSourceXForwardedFor, source)
	}
}

func TestClientIPResolverTrustedProxyCIDR(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "203.0.113.10")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.10" {
		t.Fatalf("expected real ip header, got %q", ip)
	}
	if source != ipSourceXRealIP {
		t.Fatalf("expected source %q, got %q", ipSourceXRealIP, source)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "198.51.100.20:4444"
	req2.Header.Set("X-Forwarded-For", "203.0.113.11")
	ip2, source2 := resolver.ClientIPFromRequest(req2)
	if ip2 != "198.51.100.20" {
		t.Fatalf("expected remote addr for untrusted proxy, got %q", ip2)
	}
	if source2 != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source2)
	}
}

func TestUploadLimitMiddlewareThrottlesPerUser(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	handler := uploadLimitMiddleware(rl, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/videos/upload-url", nil)
		req = req.WithContext(api.ContextWithUser(req.Context(), models.User{ID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("alice"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec.Code)
	}
	rec := send("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rec := send("bob"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected other user to be unaffected, got %d", rec.Code)
	}
}

func TestUploadLimitMiddlewareIgnoresOtherRoutes(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	handler := uploadLimitMiddleware(rl, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos/save", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddlewareAppliesGlobalBudget(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	handler := rateLimitMiddleware(rl, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/api/videos/all", nil))
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/videos/all", nil))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestServerRoutesUploadFlow(t *testing.T) {
	srv, deps := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	token := deps.token(t, deps.user.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload-url", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload-url: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/videos/save", strings.NewReader(`{"videoId":"vid-x","title":"Bihu night"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/videos/status/vid-x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"processing"`) {
		t.Fatalf("expected processing status, got %s", rec.Body.String())
	}
}

func TestServerRequiresAuthForPrivateRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/videos/upload-url"},
		{http.MethodPost, "/api/videos/save"},
		{http.MethodGet, "/api/videos/my-videos"},
		{http.MethodGet, "/api/videos/status/abc"},
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServerServesPublicRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	for _, path := range []string{"/api/health", "/healthz", "/api/videos/all", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos/webhook/status", strings.NewReader(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("webhook without secret: expected 503, got %d", rec.Code)
	}
}

func TestServerUnknownRouteIsJSON404(t *testing.T) {
	srv, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
}

func TestAuditMiddlewareRecordsAuthenticatedUser(t *testing.T) {
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))
	srv, deps := newTestServer(t, Config{Addr: "127.0.0.1:0", AuditLogger: audit})

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload-url", nil)
	req.Header.Set("Authorization", "Bearer "+deps.token(t, deps.user.ID))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode audit line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "audit" || entry["user_id"] != deps.user.ID {
		t.Fatalf("unexpected audit entry %v", entry)
	}
	if entry["request_id"] == nil {
		t.Fatalf("expected request id in audit entry %v", entry)
	}
}
