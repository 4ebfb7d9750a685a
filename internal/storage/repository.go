package storage

import (
	"context"
	"errors"
	"time"

	"bagurumba/internal/models"
)

// MaxPublicListing caps the number of records returned by ListPublicVideos.
const MaxPublicListing = 50

var (
	// ErrNotFound reports that no record exists for the requested key.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidInput reports missing or malformed parameters.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrPostgresUnavailable is returned when the Postgres pool is not configured.
	ErrPostgresUnavailable = errors.New("storage: postgres repository unavailable")
)

// Repository is the durable store for video records and the user directory
// that backs identity resolution.
//
// UpdateVideoStatus owns the lifecycle guard: a terminal status is written only
// while the stored record is still processing, and the comparison and write
// happen as one atomic operation in every driver.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	UpsertUser(ctx context.Context, params UpsertUserParams) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, bool, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, bool, error)
	FindVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error)
	UpdateVideoStatus(ctx context.Context, correlationID string, status models.VideoStatus) (StatusUpdate, error)
	ListVideosByOwner(ctx context.Context, ownerID string) ([]models.VideoRecord, error)
	ListPublicVideos(ctx context.Context, filter PublicFilter) ([]models.VideoRecord, error)
	ListStaleVideos(ctx context.Context, status models.VideoStatus, olderThan time.Time, limit int) ([]models.VideoRecord, error)
}

// UpsertUserParams describes a user directory entry. Empty fields keep the
// stored value when the user already exists.
type UpsertUserParams struct {
	ID            string
	DisplayName   string
	Category      string
	PaymentStatus models.PaymentStatus
}

// CreateVideoParams holds the immutable attributes captured when an upload is
// confirmed.
type CreateVideoParams struct {
	OwnerID       string
	OwnerName     string
	CorrelationID string
	Title         string
	Category      string
}

// StatusUpdate is the outcome of UpdateVideoStatus. Record always reflects the
// stored state after the call; Applied reports whether this call changed it.
type StatusUpdate struct {
	Record  models.VideoRecord
	Applied bool
}

// PublicFilter narrows the public catalog listing.
type PublicFilter struct {
	Category string
	Status   models.VideoStatus
	Limit    int
}

func (f PublicFilter) normalized() PublicFilter {
	f.Category = normalizeText(f.Category)
	if f.Status == "" {
		f.Status = models.VideoStatusReady
	}
	if f.Limit <= 0 || f.Limit > MaxPublicListing {
		f.Limit = MaxPublicListing
	}
	return f
}
