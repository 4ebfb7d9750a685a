package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL            = "https://api.cloudflare.com/client/v4"
	DefaultMaxDurationSeconds = 300
	DefaultTimeout            = 10 * time.Second
	DefaultMaxAttempts        = 3
	DefaultRetryInterval      = 500 * time.Millisecond
)

// DefaultAllowedOrigins are the browser origins permitted to upload directly
// to a minted target.
var DefaultAllowedOrigins = []string{
	"localhost:3000",
	"bagurumba.vercel.app",
	"www.bagurumba.org",
	"bagurumba.org",
}

// Config describes how to reach the Cloudflare Stream API.
type Config struct {
	BaseURL   string
	AccountID string
	APIToken  string

	// HTTPClient overrides the default client; its timeout still applies.
	HTTPClient *http.Client
	Timeout    time.Duration

	// MaxAttempts bounds retries of idempotent reads. Minting is never retried.
	MaxAttempts   int
	RetryInterval time.Duration

	Logger   *slog.Logger
	Observer CallObserver
}

// DefaultConfig returns a Config with every optional field populated.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       DefaultTimeout,
		MaxAttempts:   DefaultMaxAttempts,
		RetryInterval: DefaultRetryInterval,
	}
}

// Enabled reports whether credentials have been provided.
func (c Config) Enabled() bool {
	return c.hasAnyConfig() && len(c.missingRequiredFields()) == 0
}

// Validate ensures a partially configured provider is reported rather than
// silently disabled.
func (c Config) Validate() error {
	if !c.hasAnyConfig() {
		return nil
	}
	if missing := c.missingRequiredFields(); len(missing) > 0 {
		return fmt.Errorf("missing provider configuration: %s", strings.Join(missing, ", "))
	}
	if base := strings.TrimSpace(c.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid provider base url %q", base)
		}
	}
	if c.MaxAttempts < 0 {
		return errors.New("provider max attempts cannot be negative")
	}
	if c.RetryInterval < 0 {
		return errors.New("provider retry interval cannot be negative")
	}
	if c.Timeout < 0 {
		return errors.New("provider timeout cannot be negative")
	}
	return nil
}

func (c Config) hasAnyConfig() bool {
	return strings.TrimSpace(c.AccountID) != "" || strings.TrimSpace(c.APIToken) != ""
}

func (c Config) missingRequiredFields() []string {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(c.AccountID) == "" {
		missing = append(missing, "account id")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		missing = append(missing, "api token")
	}
	return missing
}

// New returns a Cloudflare-backed Provider, or a Disabled one when no
// credentials are configured.
func New(cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return Disabled{}, nil
	}
	return NewCloudflare(cfg)
}
