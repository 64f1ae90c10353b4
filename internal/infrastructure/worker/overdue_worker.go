package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the sweep entry point the worker drives
type Sweeper interface {
	RunNow(ctx context.Context) (int, error)
}

// OverdueWorkerConfig holds configuration for the overdue worker
type OverdueWorkerConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	RunOnStart bool
}

// DefaultOverdueWorkerConfig returns default configuration
func DefaultOverdueWorkerConfig() OverdueWorkerConfig {
	return OverdueWorkerConfig{
		Interval:   15 * time.Minute,
		RunTimeout: 2 * time.Minute,
		RunOnStart: true,
	}
}

// OverdueStats is a snapshot of the worker's counters
type OverdueStats struct {
	Runs          int
	Transitioned  int
	FailedRuns    int
	LastRun       time.Time
	LastError     error
	IsRunning     bool
	UptimeSeconds float64
}

// OverdueWorker runs the overdue sweep on a fixed interval
type OverdueWorker struct {
	config  OverdueWorkerConfig
	sweeper Sweeper
	logger  *zap.Logger

	mu           sync.RWMutex
	cancel       context.CancelFunc
	done         chan struct{}
	isRunning    bool
	runs         int
	transitioned int
	failedRuns   int
	lastRun      time.Time
	lastError    error
	startTime    time.Time
}

// NewOverdueWorker creates a new overdue worker
func NewOverdueWorker(config OverdueWorkerConfig, sweeper Sweeper, logger *zap.Logger) *OverdueWorker {
	return &OverdueWorker{
		config:  config,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start begins the worker polling loop
func (w *OverdueWorker) Start(ctx context.Context) error {
	if w.config.Interval <= 0 {
		return fmt.Errorf("overdue worker interval must be positive")
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("overdue worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.startTime = time.Now()
	done := w.done
	w.mu.Unlock()

	w.logger.Info("OverdueWorker started",
		zap.Duration("interval", w.config.Interval),
		zap.Duration("run_timeout", w.config.RunTimeout))

	go w.pollLoop(loopCtx, done)

	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish
func (w *OverdueWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.GetStats()
	w.logger.Info("OverdueWorker stopped",
		zap.Int("runs", stats.Runs),
		zap.Int("transitioned", stats.Transitioned),
		zap.Int("failed_runs", stats.FailedRuns))

	return nil
}

// Name returns the worker name for identification
func (w *OverdueWorker) Name() string {
	return "OverdueWorker"
}

// pollLoop runs the main polling loop in background
func (w *OverdueWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	if w.config.RunOnStart {
		w.sweep(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep performs one bounded sweep and records its outcome
func (w *OverdueWorker) sweep(ctx context.Context) {
	runCtx := ctx
	if w.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.config.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	count, err := w.sweeper.RunNow(runCtx)

	w.mu.Lock()
	w.runs++
	w.transitioned += count
	w.lastRun = start
	w.lastError = err
	if err != nil {
		w.failedRuns++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Overdue sweep finished with errors",
			zap.Int("transitioned", count),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	if count > 0 {
		w.logger.Info("Overdue sweep completed",
			zap.Int("transitioned", count),
			zap.Duration("duration", time.Since(start)))
	}
}

// GetStats returns current worker statistics
func (w *OverdueWorker) GetStats() OverdueStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var uptime float64
	if w.isRunning {
		uptime = time.Since(w.startTime).Seconds()
	}

	return OverdueStats{
		Runs:          w.runs,
		Transitioned:  w.transitioned,
		FailedRuns:    w.failedRuns,
		LastRun:       w.lastRun,
		LastError:     w.lastError,
		IsRunning:     w.isRunning,
		UptimeSeconds: uptime,
	}
}
