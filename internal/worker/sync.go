package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ProfileLister pages through stored profiles in user id order
type ProfileLister interface {
	List(ctx context.Context, afterUserID string, limit int) ([]*domain.Profile, error)
}

// Reconciler repairs ranking entries from authoritative profiles
type Reconciler interface {
	Reconcile(ctx context.Context, profiles []*domain.Profile) (int, error)
}

// Report summarizes one reconciliation pass
type Report struct {
	Profiles int           `json:"profiles"`
	Written  int           `json:"written"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration"`
}

// SyncWorker periodically rebuilds the all_time ranking index from the
// profile store, repairing entries lost to best-effort upsert failures
type SyncWorker struct {
	profiles ProfileLister
	boards   Reconciler
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	profiles ProfileLister,
	boards Reconciler,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		profiles: profiles,
		boards:   boards,
		config:   cfg,
		logger:   logger,
	}
}

// Start runs one pass immediately, then one per interval
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.syncAll(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")

	report, err := w.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("sync cycle failed", "error", err, "profiles", report.Profiles)
		return
	}

	w.logger.Info("sync cycle completed",
		"duration", report.Duration,
		"profiles", report.Profiles,
		"written", report.Written,
		"pages", report.Pages,
	)
}

// RunOnce performs a single reconciliation pass. Pages are read in order and
// reconciled concurrently, bounded by the configured worker count.
func (w *SyncWorker) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	workers := w.config.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		report  Report
		written atomic.Int64
		after   string
	)
	for {
		page, err := w.profiles.List(gctx, after, batchSize)
		if err != nil {
			report.Duration = time.Since(start)
			if werr := g.Wait(); werr != nil {
				return report, fmt.Errorf("reconciling profiles: %w", werr)
			}
			return report, fmt.Errorf("listing profiles after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		report.Pages++
		report.Profiles += len(page)
		after = page[len(page)-1].UserID

		g.Go(func() error {
			n, err := w.boards.Reconcile(gctx, page)
			if err != nil {
				return err
			}
			written.Add(int64(n))
			return nil
		})

		if len(page) < batchSize {
			break
		}
	}

	err := g.Wait()
	report.Written = int(written.Load())
	report.Duration = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("reconciling profiles: %w", err)
	}
	return report, nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
