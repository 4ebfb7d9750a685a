package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// statusError is a non-2xx provider response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider responded %d", e.Code)
	}
	return fmt.Sprintf("provider responded %d: %s", e.Code, e.Body)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.Code >= 500 || status.Code == http.StatusTooManyRequests
	}
	// Transport failures.
	return true
}

type request struct {
	operation string
	method    string
	url       string
	payload   []byte
	mutate    func(*http.Request)
}

// doWithRetry performs req up to attempts times, retrying transport failures,
// 5xx and 429 responses. On success the response body is returned.
func doWithRetry(ctx context.Context, client *http.Client, req request, logger *slog.Logger, observer CallObserver, attempts int, interval time.Duration) ([]byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if interval < 0 {
		interval = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var body []byte
		body, lastErr = doOnce(ctx, client, req)
		if observer != nil {
			observer.ObserveProviderCall(req.operation, lastErr)
		}
		if lastErr == nil {
			return body, nil
		}
		if attempt == attempts || !isRetryable(lastErr) {
			break
		}
		logger.Warn("provider request failed", "operation", req.operation, "method", req.method, "attempt", attempt, "error", lastErr)
		if interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func doOnce(ctx context.Context, client *http.Client, req request) ([]byte, error) {
	var reqBody io.Reader
	if req.payload != nil {
		reqBody = bytes.NewReader(req.payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, reqBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.mutate != nil {
		req.mutate(httpReq)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	return data, nil
}

func setBearer(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
