// Package uploads issues direct-upload sessions to paying users and records
// the uploads they confirm.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bagurumba/internal/models"
	"bagurumba/internal/observability/logging"
	"bagurumba/internal/provider"
	"bagurumba/internal/storage"
)

var (
	// ErrPaymentRequired is returned before any provider call when the user
	// has not completed payment.
	ErrPaymentRequired = errors.New("payment required")
	// ErrUploadSessionFailed wraps any failure to obtain an upload target.
	ErrUploadSessionFailed = errors.New("upload session failed")
	// ErrPersistFailed wraps store failures while confirming an upload.
	ErrPersistFailed = errors.New("persist upload failed")
	// ErrInvalidCorrelationID rejects blank video ids on confirm.
	ErrInvalidCorrelationID = errors.New("video id is required")
)

const defaultStoreTimeout = 5 * time.Second

// VideoStore is the subset of the record store used by the issuer.
type VideoStore interface {
	CreateVideo(ctx context.Context, params storage.CreateVideoParams) (models.VideoRecord, bool, error)
}

// Recorder receives outcome counters.
type Recorder interface {
	ObserveUploadSession(outcome string)
	ObserveUploadConfirm(outcome string)
}

// Config wires an Issuer.
type Config struct {
	Provider    provider.Provider
	Store       VideoStore
	Logger      *slog.Logger
	Metrics     Recorder
	Constraints provider.UploadConstraints
	// StoreTimeout bounds the confirm write.
	StoreTimeout time.Duration
}

// Session is a one-time upload target handed to the client.
type Session struct {
	UploadURL     string
	CorrelationID string
}

// Confirmation is the result of ConfirmUpload. Created is false when the
// upload had already been confirmed.
type Confirmation struct {
	Video   models.VideoRecord
	Created bool
}

// Issuer implements upload session issuance and confirmation.
type Issuer struct {
	provider     provider.Provider
	store        VideoStore
	logger       *slog.Logger
	metrics      Recorder
	constraints  provider.UploadConstraints
	storeTimeout time.Duration
}

// New validates cfg and returns an Issuer.
func New(cfg Config) (*Issuer, error) {
	if cfg.Provider == nil {
		return nil, errors.New("uploads: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("uploads: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	constraints := cfg.Constraints
	if constraints.MaxDurationSeconds <= 0 {
		constraints.MaxDurationSeconds = provider.DefaultMaxDurationSeconds
	}
	if len(constraints.AllowedOrigins) == 0 {
		constraints.AllowedOrigins = append([]string(nil), provider.DefaultAllowedOrigins...)
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Issuer{
		provider:     cfg.Provider,
		store:        cfg.Store,
		logger:       logging.WithComponent(logger, "uploads"),
		metrics:      cfg.Metrics,
		constraints:  constraints,
		storeTimeout: timeout,
	}, nil
}

func (i *Issuer) observeSession(outcome string) {
	if i.metrics != nil {
		i.metrics.ObserveUploadSession(outcome)
	}
}

func (i *Issuer) observeConfirm(outcome string) {
	if i.metrics != nil {
		i.metrics.ObserveUploadConfirm(outcome)
	}
}

// IssueUploadSession mints a direct-upload target for user. Nothing is
// stored; the record is created when the client confirms.
func (i *Issuer) IssueUploadSession(ctx context.Context, user models.User) (Session, error) {
	logger := logging.WithContext(ctx, i.logger).With("user_id", user.ID)
	if !user.HasPaid() {
		i.observeSession("payment_required")
		logger.Info("upload session refused", "payment_status", user.PaymentStatus)
		return Session{}, ErrPaymentRequired
	}

	target, err := i.provider.MintUploadTarget(ctx, i.constraints, provider.UploadMetadata{
		UserID:   user.ID,
		Category: user.Category,
	})
	if err != nil {
		i.observeSession("failed")
		logger.Error("mint upload target failed", "error", err)
		return Session{}, fmt.Errorf("%w: %w", ErrUploadSessionFailed, err)
	}
	if strings.TrimSpace(target.UploadURL) == "" || strings.TrimSpace(target.CorrelationID) == "" {
		i.observeSession("failed")
		logger.Error("provider returned incomplete upload target", "correlation_id", target.CorrelationID)
		return Session{}, fmt.Errorf("%w: incomplete upload target", ErrUploadSessionFailed)
	}

	i.observeSession("issued")
	logger.Info("upload session issued", "correlation_id", target.CorrelationID)
	return Session{UploadURL: target.UploadURL, CorrelationID: target.CorrelationID}, nil
}

// ConfirmUpload records an upload the client finished sending to the
// provider. The record starts as processing; confirming the same id again
// returns the stored record.
func (i *Issuer) ConfirmUpload(ctx context.Context, user models.User, correlationID, title string) (Confirmation, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		i.observeConfirm("invalid")
		return Confirmation{}, ErrInvalidCorrelationID
	}
	logger := logging.WithContext(ctx, i.logger).With("user_id", user.ID, "correlation_id", correlationID)

	storeCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()
	video, created, err := i.store.CreateVideo(storeCtx, storage.CreateVideoParams{
		OwnerID:       user.ID,
		OwnerName:     user.DisplayName,
		CorrelationID: correlationID,
		Title:         title,
		Category:      user.Category,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			i.observeConfirm("invalid")
			return Confirmation{}, fmt.Errorf("%w: %w", ErrInvalidCorrelationID, err)
		}
		i.observeConfirm("failed")
		logger.Error("persist upload failed", "error", err)
		return Confirmation{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	if !created {
		i.observeConfirm("duplicate")
		if video.OwnerID != user.ID {
			logger.Warn("upload confirmed by a different user", "owner_id", video.OwnerID)
		}
		return Confirmation{Video: video, Created: false}, nil
	}
	i.observeConfirm("created")
	logger.Info("upload confirmed", "video_id", video.ID)
	return Confirmation{Video: video, Created: true}, nil
}
