package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Cloudflare talks to the Cloudflare Stream REST API.
type Cloudflare struct {
	config        Config
	baseURL       string
	client        *http.Client
	logger        *slog.Logger
	retryAttempts int
}

// NewCloudflare builds a client from cfg. Missing optional fields take the
// package defaults.
func NewCloudflare(cfg Config) (*Cloudflare, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	} else if client.Timeout <= 0 {
		copied := *client
		copied.Timeout = cfg.Timeout
		client = &copied
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cloudflare{
		config:        cfg,
		baseURL:       base,
		client:        client,
		logger:        logger,
		retryAttempts: attempts,
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type directUploadRequest struct {
	MaxDurationSeconds int               `json:"maxDurationSeconds"`
	MaxSizeBytes       int64             `json:"maxSizeBytes,omitempty"`
	AllowedOrigins     []string          `json:"allowedOrigins,omitempty"`
	Meta               map[string]string `json:"meta,omitempty"`
}

type directUploadResult struct {
	UploadURL string `json:"uploadURL"`
	UID       string `json:"uid"`
}

type videoResult struct {
	UID           string `json:"uid"`
	ReadyToStream bool   `json:"readyToStream"`
	Status        struct {
		State           string `json:"state"`
		ErrorReasonCode string `json:"errorReasonCode"`
		ErrorReasonText string `json:"errorReasonText"`
	} `json:"status"`
}

func (c *Cloudflare) accountURL(parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, "accounts", url.PathEscape(strings.TrimSpace(c.config.AccountID)))
	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Cloudflare) authorize(req *http.Request) {
	setBearer(req, c.config.APIToken)
}

// MintUploadTarget creates a one-time direct upload URL.
func (c *Cloudflare) MintUploadTarget(ctx context.Context, constraints UploadConstraints, metadata UploadMetadata) (UploadTarget, error) {
	maxDuration := constraints.MaxDurationSeconds
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDurationSeconds
	}
	origins := constraints.AllowedOrigins
	if origins == nil {
		origins = DefaultAllowedOrigins
	}
	meta := map[string]string{}
	if metadata.UserID != "" {
		meta["userId"] = metadata.UserID
	}
	if metadata.Category != "" {
		meta["category"] = metadata.Category
	}
	payload, err := json.Marshal(directUploadRequest{
		MaxDurationSeconds: maxDuration,
		MaxSizeBytes:       constraints.MaxSizeBytes,
		AllowedOrigins:     origins,
		Meta:               meta,
	})
	if err != nil {
		return UploadTarget{}, fmt.Errorf("encode direct upload request: %w", err)
	}

	body, err := doWithRetry(ctx, c.client, request{
		operation: "mint_upload_target",
		method:    http.MethodPost,
		url:       c.accountURL("stream", "direct_upload"),
		payload:   payload,
		mutate:    c.authorize,
	}, c.logger, c.config.Observer, 1, 0)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("direct upload: %w", err)
	}

	var result directUploadResult
	if err := decodeEnvelope(body, &result); err != nil {
		return UploadTarget{}, fmt.Errorf("direct upload: %w", err)
	}
	if result.UploadURL == "" || result.UID == "" {
		return UploadTarget{}, errors.New("direct upload: response missing uploadURL or uid")
	}
	return UploadTarget{UploadURL: result.UploadURL, CorrelationID: result.UID}, nil
}

// QueryJobState fetches the asset and reports its processing state.
func (c *Cloudflare) QueryJobState(ctx context.Context, correlationID string) (JobState, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return JobState{}, ErrJobNotFound
	}
	body, err := doWithRetry(ctx, c.client, request{
		operation: "query_job_state",
		method:    http.MethodGet,
		url:       c.accountURL("stream", correlationID),
		mutate:    c.authorize,
	}, c.logger, c.config.Observer, c.retryAttempts, c.config.RetryInterval)
	if err != nil {
		var status *statusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return JobState{}, fmt.Errorf("%w: %s", ErrJobNotFound, correlationID)
		}
		return JobState{}, fmt.Errorf("query video %s: %w", correlationID, err)
	}

	var result videoResult
	if err := decodeEnvelope(body, &result); err != nil {
		return JobState{}, fmt.Errorf("query video %s: %w", correlationID, err)
	}
	reason := result.Status.ErrorReasonText
	if reason == "" {
		reason = result.Status.ErrorReasonCode
	}
	uid := result.UID
	if uid == "" {
		uid = correlationID
	}
	return JobState{
		CorrelationID: uid,
		State:         strings.ToLower(strings.TrimSpace(result.Status.State)),
		ReadyToStream: result.ReadyToStream,
		ErrorReason:   reason,
	}, nil
}

// HealthCheck verifies the API token.
func (c *Cloudflare) HealthCheck(ctx context.Context) error {
	body, err := doWithRetry(ctx, c.client, request{
		operation: "verify_token",
		method:    http.MethodGet,
		url:       c.baseURL + "/user/tokens/verify",
		mutate:    c.authorize,
	}, c.logger, c.config.Observer, c.retryAttempts, c.config.RetryInterval)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	var result struct {
		Status string `json:"status"`
	}
	if err := decodeEnvelope(body, &result); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	if result.Status != "" && result.Status != "active" {
		return fmt.Errorf("verify token: token status %q", result.Status)
	}
	return nil
}

func decodeEnvelope(body []byte, dest any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if len(env.Errors) == 0 {
			return errors.New("provider reported failure")
		}
		messages := make([]string, 0, len(env.Errors))
		for _, apiErr := range env.Errors {
			messages = append(messages, fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message))
		}
		return fmt.Errorf("provider reported failure: %s", strings.Join(messages, "; "))
	}
	if dest == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, dest); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
