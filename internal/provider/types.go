package provider

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned by QueryJobState when the provider has no
	// asset for the correlation id.
	ErrJobNotFound = errors.New("provider: job not found")
	// ErrDisabled is returned by every call on a provider built without
	// credentials.
	ErrDisabled = errors.New("provider: not configured")
)

// Provider is the subset of the streaming provider's API the service needs.
type Provider interface {
	// MintUploadTarget asks the provider for a one-time direct upload URL.
	// The returned CorrelationID identifies the asset for its whole life.
	MintUploadTarget(ctx context.Context, constraints UploadConstraints, metadata UploadMetadata) (UploadTarget, error)
	// QueryJobState reports the provider's processing state for an asset.
	QueryJobState(ctx context.Context, correlationID string) (JobState, error)
	// HealthCheck verifies the configured credential.
	HealthCheck(ctx context.Context) error
}

// UploadConstraints limits what the client may upload to a minted target.
//
// MaxDurationSeconds is required by the provider. MaxSizeBytes is optional and
// omitted from the request when zero. AllowedOrigins restricts which browser
// origins may PUT/POST to the upload URL.
type UploadConstraints struct {
	MaxDurationSeconds int
	MaxSizeBytes       int64
	AllowedOrigins     []string
}

// UploadMetadata is attached to the provider asset for later attribution.
type UploadMetadata struct {
	UserID   string
	Category string
}

// UploadTarget is a minted direct upload slot.
type UploadTarget struct {
	UploadURL     string
	CorrelationID string
}

// JobState is the provider's view of an asset.
//
// State carries the raw provider value (for example "queued",
// "inprogress", "ready" or "error"). Callers map it onto the service's own
// lifecycle; anything that is not "ready" or "error" means the asset is still
// being processed.
type JobState struct {
	CorrelationID string
	State         string
	ReadyToStream bool
	ErrorReason   string
}

const (
	StateReady = "ready"
	StateError = "error"
)

// CallObserver receives one notification per provider HTTP attempt.
type CallObserver interface {
	ObserveProviderCall(operation string, err error)
}
