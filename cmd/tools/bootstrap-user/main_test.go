package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"bagurumba/internal/auth"
	"bagurumba/internal/config"
	"bagurumba/internal/models"
	"bagurumba/internal/storage"
)

func newTestRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

func TestParseOptionsRequiresID(t *testing.T) {
	fs := flag.NewFlagSet("bootstrap-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseOptions(fs, []string{"--name", "Rina"}); err == nil {
		t.Fatal("expected missing --id to fail")
	}
}

func TestBootstrapCreatesThenUpdates(t *testing.T) {
	repo := newTestRepo(t)
	cfg := config.Default()
	ctx := context.Background()

	var out bytes.Buffer
	opts := options{userID: "user-1", displayName: "Rina", category: "dance", payment: "completed"}
	if err := bootstrap(ctx, &out, repo, &cfg, opts); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !strings.Contains(out.String(), "created") {
		t.Fatalf("expected created message, got %q", out.String())
	}
	user, ok, err := repo.GetUser(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("GetUser: ok=%v err=%v", ok, err)
	}
	if !user.HasPaid() || user.Category != "dance" {
		t.Fatalf("unexpected user %+v", user)
	}

	out.Reset()
	opts = options{userID: "user-1", payment: "failed"}
	if err := bootstrap(ctx, &out, repo, &cfg, opts); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if !strings.Contains(out.String(), "updated") {
		t.Fatalf("expected updated message, got %q", out.String())
	}
	user, _, _ = repo.GetUser(ctx, "user-1")
	if user.PaymentStatus != models.PaymentStatusFailed || user.DisplayName != "Rina" {
		t.Fatalf("expected payment update with name kept, got %+v", user)
	}
}

func TestBootstrapIssuesVerifiableToken(t *testing.T) {
	repo := newTestRepo(t)
	cfg := config.Default()
	cfg.Auth.JWTSecret = "bootstrap-secret"

	var out bytes.Buffer
	opts := options{userID: "user-2", displayName: "Moni", payment: "completed", issueToken: true}
	if err := bootstrap(context.Background(), &out, repo, &cfg, opts); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	token := lines[len(lines)-1]

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID() != "user-2" {
		t.Fatalf("expected subject user-2, got %q", claims.UserID())
	}
}

func TestBootstrapTokenWithoutSecret(t *testing.T) {
	repo := newTestRepo(t)
	cfg := config.Default()
	opts := options{userID: "user-3", payment: "completed", issueToken: true}
	if err := bootstrap(context.Background(), io.Discard, repo, &cfg, opts); err == nil {
		t.Fatal("expected token issuance to fail without a secret")
	}
}
