package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	fails int
}

func (o *recordingObserver) ObserveProviderCall(operation string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, operation)
	if err != nil {
		o.fails++
	}
}

func newTestClient(t *testing.T, handler http.Handler, mutate ...func(*Config)) *Cloudflare {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := Config{
		BaseURL:       server.URL,
		AccountID:     "acct-1",
		APIToken:      "secret-token",
		MaxAttempts:   3,
		RetryInterval: 0,
		Timeout:       time.Second,
		Logger:        discardLogger(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	client, err := NewCloudflare(cfg)
	if err != nil {
		t.Fatalf("NewCloudflare: %v", err)
	}
	return client
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"errors":  []any{},
		"result":  json.RawMessage(raw),
	})
}

// TestMintUploadTargetSendsConstraints verifies the direct upload request
// shape and the mapping of the response onto an UploadTarget.
func TestMintUploadTargetSendsConstraints(t *testing.T) {
	var got directUploadRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/accounts/acct-1/stream/direct_upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret-token" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeEnvelope(w, http.StatusOK, true, map[string]string{"uploadURL": "https://upload.example/abc", "uid": "abc"})
	}))

	target, err := client.MintUploadTarget(context.Background(), UploadConstraints{}, UploadMetadata{UserID: "user-1", Category: "dance"})
	if err != nil {
		t.Fatalf("MintUploadTarget: %v", err)
	}
	if target.UploadURL != "https://upload.example/abc" || target.CorrelationID != "abc" {
		t.Fatalf("unexpected target %+v", target)
	}
	if got.MaxDurationSeconds != DefaultMaxDurationSeconds {
		t.Fatalf("expected default max duration, got %d", got.MaxDurationSeconds)
	}
	if got.MaxSizeBytes != 0 {
		t.Fatalf("expected max size to be omitted, got %d", got.MaxSizeBytes)
	}
	if len(got.AllowedOrigins) != len(DefaultAllowedOrigins) {
		t.Fatalf("expected default origins, got %v", got.AllowedOrigins)
	}
	if got.Meta["userId"] != "user-1" || got.Meta["category"] != "dance" {
		t.Fatalf("unexpected meta %v", got.Meta)
	}
}

// TestMintUploadTargetIsNotRetried verifies a failed mint surfaces after a
// single attempt.
func TestMintUploadTargetIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	observer := &recordingObserver{}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}), func(cfg *Config) { cfg.Observer = observer })

	if _, err := client.MintUploadTarget(context.Background(), UploadConstraints{MaxDurationSeconds: 60}, UploadMetadata{}); err == nil {
		t.Fatal("expected mint failure")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one attempt, got %d", hits.Load())
	}
	if observer.fails != 1 || observer.calls[0] != "mint_upload_target" {
		t.Fatalf("unexpected observations %+v", observer)
	}
}

func TestMintUploadTargetRejectsUnsuccessfulEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":10005,"message":"quota exceeded"}],"result":null}`))
	}))
	_, err := client.MintUploadTarget(context.Background(), UploadConstraints{}, UploadMetadata{})
	if err == nil {
		t.Fatal("expected failure for unsuccessful envelope")
	}
}

// TestQueryJobStateRetriesTransientErrors verifies reads are retried on 5xx.
func TestQueryJobStateRetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/acct-1/stream/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, http.StatusOK, true, map[string]any{
			"uid":           "abc",
			"readyToStream": true,
			"status":        map[string]string{"state": "Ready"},
		})
	}))

	state, err := client.QueryJobState(context.Background(), "abc")
	if err != nil {
		t.Fatalf("QueryJobState: %v", err)
	}
	if state.State != StateReady || !state.ReadyToStream || state.CorrelationID != "abc" {
		t.Fatalf("unexpected state %+v", state)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected a retry, got %d attempts", hits.Load())
	}
}

func TestQueryJobStateMapsNotFound(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	_, err := client.QueryJobState(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 4xx not to be retried, got %d attempts", hits.Load())
	}
}

func TestQueryJobStateGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}), func(cfg *Config) { cfg.MaxAttempts = 2 })
	if _, err := client.QueryJobState(context.Background(), "abc"); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestQueryJobStateDecodeFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	if _, err := client.QueryJobState(context.Background(), "abc"); err == nil || errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestQueryJobStateHonoursContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), func(cfg *Config) { cfg.RetryInterval = time.Minute })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := client.QueryJobState(ctx, "abc"); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("expected retry wait to be cut short by context")
	}
}

func TestHealthCheckVerifiesToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/tokens/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, true, map[string]string{"status": "active"})
	}))
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestHealthCheckRejectsInactiveToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, map[string]string{"status": "expired"})
	}))
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected inactive token to fail health check")
	}
}
