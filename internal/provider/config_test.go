package provider

import (
	"context"
	"errors"
	"testing"
)

func TestNewReturnsDisabledWithoutCredentials(t *testing.T) {
	p, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(Disabled); !ok {
		t.Fatalf("expected Disabled provider, got %T", p)
	}
	if _, err := p.MintUploadTarget(context.Background(), UploadConstraints{}, UploadMetadata{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestValidateRejectsPartialConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccountID = "acct"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing token to be rejected")
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected New to reject partial config")
	}
}

func TestValidateRejectsBadBaseURL(t *testing.T) {
	cfg := Config{AccountID: "acct", APIToken: "token", BaseURL: "not a url"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid base url to be rejected")
	}
}

func TestNewReturnsCloudflareWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccountID = "acct"
	cfg.APIToken = "token"
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	client, ok := p.(*Cloudflare)
	if !ok {
		t.Fatalf("expected *Cloudflare, got %T", p)
	}
	if client.client.Timeout != DefaultTimeout {
		t.Fatalf("expected default timeout, got %v", client.client.Timeout)
	}
}
