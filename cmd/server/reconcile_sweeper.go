package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bagurumba/internal/models"
	"bagurumba/internal/reconcile"
)

type staleVideoLister interface {
	ListStaleVideos(ctx context.Context, status models.VideoStatus, olderThan time.Time, limit int) ([]models.VideoRecord, error)
}

type statusRefresher interface {
	Refresh(ctx context.Context, correlationID string) (reconcile.StatusReport, error)
}

type sweepRecorder interface {
	ObserveSweep(checked int)
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

type sweeperConfig struct {
	Store      staleVideoLister
	Reconciler statusRefresher
	Metrics    sweepRecorder
	Logger     *slog.Logger
	Interval   time.Duration
	// Grace is how long a record must sit in processing before it is polled.
	Grace     time.Duration
	BatchSize int
	Now       func() time.Time
}

// startReconcileSweeper polls the provider for records stuck in processing,
// covering notifications that never arrived. The returned func stops the
// worker and waits for an in-flight pass to finish.
func startReconcileSweeper(ctx context.Context, cfg sweeperConfig) func() {
	return startReconcileSweeperWithTicker(ctx, cfg, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startReconcileSweeperWithTicker(ctx context.Context, cfg sweeperConfig, newTicker tickerFactory) func() {
	if cfg.Store == nil || cfg.Reconciler == nil || cfg.Interval <= 0 {
		return func() {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(cfg.Interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				sweepOnce(workerCtx, cfg)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// sweepOnce refreshes one batch and returns how many records were checked.
func sweepOnce(ctx context.Context, cfg sweeperConfig) int {
	cutoff := cfg.Now().Add(-cfg.Grace)
	stale, err := cfg.Store.ListStaleVideos(ctx, models.VideoStatusProcessing, cutoff, cfg.BatchSize)
	if err != nil {
		cfg.Logger.Error("failed to list stale videos", "error", err)
		return 0
	}
	checked := 0
	for _, video := range stale {
		if ctx.Err() != nil {
			break
		}
		checked++
		report, err := cfg.Reconciler.Refresh(ctx, video.CorrelationID)
		if err != nil {
			cfg.Logger.Warn("sweep refresh failed", "video_id", video.CorrelationID, "error", err)
			continue
		}
		if report.Status != video.Status {
			cfg.Logger.Info("sweep updated video status", "video_id", video.CorrelationID, "from", video.Status, "to", report.Status)
		}
	}
	if cfg.Metrics != nil {
		cfg.Metrics.ObserveSweep(checked)
	}
	if checked > 0 {
		cfg.Logger.Debug("sweep pass complete", "checked", checked)
	}
	return checked
}
