package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bagurumba/internal/auth"
	"bagurumba/internal/catalog"
	"bagurumba/internal/events"
	"bagurumba/internal/models"
	"bagurumba/internal/provider"
	"bagurumba/internal/reconcile"
	"bagurumba/internal/storage"
	"bagurumba/internal/uploads"
	"bagurumba/internal/webhook"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "webhook-test-secret"
)

type fakeProvider struct {
	mu        sync.Mutex
	mintCalls int
	mintErr   error
	healthErr error
	states    map[string]string
}

func (f *fakeProvider) MintUploadTarget(context.Context, provider.UploadConstraints, provider.UploadMetadata) (provider.UploadTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintCalls++
	if f.mintErr != nil {
		return provider.UploadTarget{}, f.mintErr
	}
	return provider.UploadTarget{UploadURL: "https://upload.example.com/abc", CorrelationID: "vid-abc"}, nil
}

func (f *fakeProvider) QueryJobState(_ context.Context, correlationID string) (provider.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[correlationID]
	if !ok {
		return provider.JobState{}, provider.ErrJobNotFound
	}
	return provider.JobState{CorrelationID: correlationID, State: state}, nil
}

func (f *fakeProvider) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeProvider) setState(correlationID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = map[string]string{}
	}
	f.states[correlationID] = state
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mintCalls
}

type rejectionCounter struct {
	mu      sync.Mutex
	reasons map[string]int
}

func (c *rejectionCounter) ObserveWebhookRejected(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reasons == nil {
		c.reasons = map[string]int{}
	}
	c.reasons[reason]++
}

func (c *rejectionCounter) count(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasons[reason]
}

type testEnv struct {
	handler    *Handler
	store      storage.Repository
	provider   *fakeProvider
	events     *events.Memory
	rejections *rejectionCounter
	tokens     *auth.Issuer
	paid       models.User
	unpaid     models.User
	now        time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	ctx := context.Background()
	paid, err := store.UpsertUser(ctx, storage.UpsertUserParams{
		ID:            "user-paid",
		DisplayName:   "Rina",
		Category:      "dance",
		PaymentStatus: models.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpsertUser paid: %v", err)
	}
	unpaid, err := store.UpsertUser(ctx, storage.UpsertUserParams{
		ID:            "user-unpaid",
		DisplayName:   "Moni",
		Category:      "music",
		PaymentStatus: models.PaymentStatusPending,
	})
	if err != nil {
		t.Fatalf("UpsertUser unpaid: %v", err)
	}

	fake := &fakeProvider{}
	memory := events.NewMemory()
	logger := discardLogger()

	issuer, err := uploads.New(uploads.Config{Provider: fake, Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("uploads.New: %v", err)
	}
	reconciler, err := reconcile.New(reconcile.Config{Provider: fake, Store: store, Events: memory, Logger: logger})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	verifier, err := auth.NewVerifier(testJWTSecret, auth.WithIssuer("bagurumba"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	tokens, err := auth.NewIssuer(testJWTSecret, "bagurumba")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rejections := &rejectionCounter{}
	handler := &Handler{
		Users:      store,
		Tokens:     verifier,
		Uploads:    issuer,
		Reconciler: reconciler,
		Catalog:    catalog.New(store, 0),
		Webhook: webhook.Verifier{
			Secret: testWebhookSecret,
			Now:    func() time.Time { return now },
		},
		Provider: fake,
		Metrics:  rejections,
		Logger:   logger,
		Now:      func() time.Time { return now },
	}
	return &testEnv{
		handler:    handler,
		store:      store,
		provider:   fake,
		events:     memory,
		rejections: rejections,
		tokens:     tokens,
		paid:       paid,
		unpaid:     unpaid,
		now:        now,
	}
}

func asUser(req *http.Request, user models.User) *http.Request {
	return req.WithContext(ContextWithUser(req.Context(), user))
}
