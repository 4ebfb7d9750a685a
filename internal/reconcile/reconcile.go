// Package reconcile merges provider-reported and webhook-reported job state
// into the video record store. It is the only writer of terminal statuses.
//
// Both channels funnel into storage's conditional update, which writes a
// terminal status only while the record is still processing. Whichever
// channel lands first wins; later pulls and pushes observe the stored value.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"bagurumba/internal/events"
	"bagurumba/internal/models"
	"bagurumba/internal/observability/logging"
	"bagurumba/internal/provider"
	"bagurumba/internal/storage"
)

const (
	ChannelPull  = "pull"
	ChannelPush  = "push"
	ChannelSweep = "sweep"

	outcomeApplied   = "applied"
	outcomeUnchanged = "unchanged"
	outcomeFallback  = "fallback"
	outcomeNotFound  = "not_found"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"

	defaultProviderTimeout = 15 * time.Second
	defaultWriteTimeout    = 5 * time.Second
)

var (
	// ErrNotFound means neither the store nor the provider knows the id.
	ErrNotFound = errors.New("video not found")
	// ErrInvalidNotification rejects pushes that cannot be applied.
	ErrInvalidNotification = errors.New("invalid status notification")
	// ErrInvalidStatus rejects statuses outside processing, ready and error.
	ErrInvalidStatus = fmt.Errorf("%w: unknown status", ErrInvalidNotification)
	// ErrProviderQueryFailed wraps provider failures during a pull. Pulls
	// fall back to the stored status and never return it to callers.
	ErrProviderQueryFailed = errors.New("provider query failed")
)

// Store is the subset of the record store the reconciler needs.
type Store interface {
	FindVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error)
	UpdateVideoStatus(ctx context.Context, correlationID string, status models.VideoStatus) (storage.StatusUpdate, error)
}

// Recorder receives reconciliation counters.
type Recorder interface {
	ObserveReconcile(channel, outcome string)
	ObserveEventPublishFailure(eventType string)
}

// Config wires a Reconciler.
type Config struct {
	Provider provider.Provider
	Store    Store
	Events   events.Publisher
	Logger   *slog.Logger
	Metrics  Recorder
	// ProviderTimeout bounds the detached provider query of a pull.
	ProviderTimeout time.Duration
	// WriteTimeout bounds store writes and event publishing.
	WriteTimeout time.Duration
	Now          func() time.Time
}

// StatusReport is the answer to a pull.
type StatusReport struct {
	CorrelationID string
	Status        models.VideoStatus
}

// PushResult describes what a push did. Known is false when no record exists
// for the id; Applied is true only when this push changed the stored status.
type PushResult struct {
	Known   bool
	Applied bool
	Status  models.VideoStatus
}

// Reconciler implements the pull and push channels.
type Reconciler struct {
	provider        provider.Provider
	store           Store
	events          events.Publisher
	logger          *slog.Logger
	metrics         Recorder
	providerTimeout time.Duration
	writeTimeout    time.Duration
	now             func() time.Time

	queries singleflight.Group
}

// New validates cfg and returns a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Provider == nil {
		return nil, errors.New("reconcile: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	providerTimeout := cfg.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		provider:        cfg.Provider,
		store:           cfg.Store,
		events:          publisher,
		logger:          logging.WithComponent(logger, "reconcile"),
		metrics:         cfg.Metrics,
		providerTimeout: providerTimeout,
		writeTimeout:    writeTimeout,
		now:             now,
	}, nil
}

func (r *Reconciler) observe(channel, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveReconcile(channel, outcome)
	}
}

// mapProviderState folds provider job states onto the local status set.
func mapProviderState(state string) models.VideoStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case provider.StateReady:
		return models.VideoStatusReady
	case provider.StateError:
		return models.VideoStatusError
	default:
		return models.VideoStatusProcessing
	}
}

// PullStatus reports the current status of correlationID, consulting the
// provider while the stored record is still processing.
func (r *Reconciler) PullStatus(ctx context.Context, correlationID string) (StatusReport, error) {
	return r.pull(ctx, correlationID, ChannelPull)
}

// Refresh is PullStatus on behalf of the background sweeper.
func (r *Reconciler) Refresh(ctx context.Context, correlationID string) (StatusReport, error) {
	return r.pull(ctx, correlationID, ChannelSweep)
}

type queryResult struct {
	status   models.VideoStatus
	queryErr error
}

func (r *Reconciler) pull(ctx context.Context, correlationID, channel string) (StatusReport, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		r.observe(channel, outcomeNotFound)
		return StatusReport{}, ErrNotFound
	}
	ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	logger := logging.WithContext(ctx, r.logger).With("channel", channel)

	readCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	local, found, err := r.store.FindVideo(readCtx, correlationID)
	cancel()
	if err != nil {
		r.observe(channel, outcomeFailed)
		return StatusReport{}, fmt.Errorf("load video: %w", err)
	}
	if found && local.Status.Terminal() {
		r.observe(channel, outcomeUnchanged)
		return StatusReport{CorrelationID: correlationID, Status: local.Status}, nil
	}

	// The query and the write it decides run on a detached context so a
	// disconnecting client does not leave the record half reconciled.
	// Concurrent pulls for the same id share one query.
	detached := context.WithoutCancel(ctx)
	ch := r.queries.DoChan(correlationID, func() (any, error) {
		return r.queryAndApply(detached, correlationID, channel), nil
	})

	var result queryResult
	select {
	case <-ctx.Done():
		return StatusReport{}, ctx.Err()
	case res := <-ch:
		result = res.Val.(queryResult)
	}

	if result.queryErr != nil {
		if !found {
			r.observe(channel, outcomeNotFound)
			logger.Info("status pull for unknown video", "error", result.queryErr)
			return StatusReport{}, ErrNotFound
		}
		r.observe(channel, outcomeFallback)
		logger.Warn("provider query failed, reporting stored status", "error", result.queryErr, "status", local.Status)
		return StatusReport{CorrelationID: correlationID, Status: local.Status}, nil
	}
	return StatusReport{CorrelationID: correlationID, Status: result.status}, nil
}

// queryAndApply asks the provider for the job state and persists terminal
// states. The returned status is the stored one after the write, or the
// provider's when no record exists.
func (r *Reconciler) queryAndApply(ctx context.Context, correlationID, channel string) queryResult {
	logger := logging.WithContext(ctx, r.logger).With("channel", channel)

	queryCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	state, err := r.provider.QueryJobState(queryCtx, correlationID)
	cancel()
	if err != nil {
		return queryResult{queryErr: fmt.Errorf("%w: %w", ErrProviderQueryFailed, err)}
	}
	mapped := mapProviderState(state.State)
	if !mapped.Terminal() {
		r.observe(channel, outcomeUnchanged)
		return queryResult{status: mapped}
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	update, err := r.store.UpdateVideoStatus(writeCtx, correlationID, mapped)
	cancel()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.observe(channel, outcomeNotFound)
		logger.Info("provider reports video without a local record", "status", mapped)
		return queryResult{status: mapped}
	case err != nil:
		// The record keeps its previous status; the next pull retries.
		r.observe(channel, outcomeFailed)
		logger.Error("persist pulled status failed", "error", err, "status", mapped)
		return queryResult{queryErr: fmt.Errorf("persist status: %w", err)}
	}
	if update.Applied {
		r.observe(channel, outcomeApplied)
		logger.Info("video status reconciled", "status", update.Record.Status, "error_reason", state.ErrorReason)
		r.publish(ctx, update.Record, channel)
	} else {
		r.observe(channel, outcomeUnchanged)
	}
	return queryResult{status: update.Record.Status}
}

// PushStatus applies a provider notification. Unknown ids are accepted and
// logged; store failures are returned so the provider re-delivers.
func (r *Reconciler) PushStatus(ctx context.Context, correlationID, rawStatus string) (PushResult, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		r.observe(ChannelPush, outcomeFailed)
		return PushResult{}, fmt.Errorf("%w: missing video id", ErrInvalidNotification)
	}
	status, err := models.ParseVideoStatus(rawStatus)
	if err != nil {
		r.observe(ChannelPush, outcomeFailed)
		return PushResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, rawStatus)
	}
	ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	logger := logging.WithContext(ctx, r.logger).With("channel", ChannelPush)

	if !status.Terminal() {
		r.observe(ChannelPush, outcomeIgnored)
		logger.Debug("processing notification ignored")
		return PushResult{Known: true, Status: status}, nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	update, err := r.store.UpdateVideoStatus(writeCtx, correlationID, status)
	cancel()
	if errors.Is(err, storage.ErrNotFound) {
		r.observe(ChannelPush, outcomeNotFound)
		logger.Warn("status notification for unknown video", "status", status)
		return PushResult{Known: false, Status: status}, nil
	}
	if err != nil {
		r.observe(ChannelPush, outcomeFailed)
		logger.Error("persist pushed status failed", "error", err, "status", status)
		return PushResult{}, fmt.Errorf("persist status: %w", err)
	}
	if !update.Applied {
		r.observe(ChannelPush, outcomeUnchanged)
		if update.Record.Status != status {
			logger.Info("conflicting notification for terminal video", "stored", update.Record.Status, "pushed", status)
		}
		return PushResult{Known: true, Status: update.Record.Status}, nil
	}
	r.observe(ChannelPush, outcomeApplied)
	logger.Info("video status reconciled", "status", update.Record.Status)
	r.publish(context.WithoutCancel(ctx), update.Record, ChannelPush)
	return PushResult{Known: true, Applied: true, Status: update.Record.Status}, nil
}

func (r *Reconciler) publish(ctx context.Context, video models.VideoRecord, channel string) {
	event := events.Event{
		Type:          events.TypeStatusChanged,
		CorrelationID: video.CorrelationID,
		OwnerID:       video.OwnerID,
		Status:        video.Status,
		Channel:       channel,
		OccurredAt:    r.now().UTC(),
	}
	publishCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := r.events.Publish(publishCtx, event); err != nil {
		if r.metrics != nil {
			r.metrics.ObserveEventPublishFailure(event.Type)
		}
		logging.WithContext(ctx, r.logger).Warn("publish status event failed", "error", err, "type", event.Type)
	}
}
