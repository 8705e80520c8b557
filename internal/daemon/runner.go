// Package daemon runs ingestion, alert evaluation and gamification on a
// single worker fed by periodic, manual and push triggers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/alerts"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/tracker"
)

// ErrRefreshInProgress is returned by Refresh while another refresh runs.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Defaults for Config.
const (
	DefaultScanInterval         = 10 * time.Second
	DefaultScanLimit            = 50
	DefaultQueueSize            = 64
	DefaultGamificationInterval = 12 * time.Hour
)

// Core is the set of tracker operations the runner drives.
type Core interface {
	Scan(ctx context.Context, src api.MessageSource, limit int) (tracker.ScanResult, error)
	DetectAndInsert(ctx context.Context, msg api.Message) (bool, error)
	Evaluate(ctx context.Context) (alerts.State, error)
	RunGamification(ctx context.Context) error
}

// Config holds runner settings. Zero values take the defaults.
type Config struct {
	ScanInterval         time.Duration
	ScanLimit            int
	QueueSize            int
	GamificationInterval time.Duration
}

type requestKind int

const (
	scanRequest requestKind = iota
	messageRequest
	evaluateRequest
	gamificationRequest
)

func (k requestKind) String() string {
	switch k {
	case scanRequest:
		return "scan"
	case messageRequest:
		return "message"
	case evaluateRequest:
		return "evaluate"
	case gamificationRequest:
		return "gamification"
	}
	return "unknown"
}

type request struct {
	kind requestKind
	msg  api.Message
	done chan error
}

// Runner owns the ingestion queue and its worker.
type Runner struct {
	core   Core
	source api.MessageSource
	config Config
	logger *slog.Logger

	queue      chan request
	refreshing atomic.Bool
}

// New creates a runner reading from source.
func New(core Core, source api.MessageSource, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.GamificationInterval <= 0 {
		cfg.GamificationInterval = DefaultGamificationInterval
	}

	return &Runner{
		core:   core,
		source: source,
		config: cfg,
		logger: logger,
		queue:  make(chan request, cfg.QueueSize),
	}
}

// Run starts the worker and the triggers. It blocks until ctx is canceled
// and returns after the in-flight request finishes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("daemon started",
		"scan_interval", r.config.ScanInterval,
		"scan_limit", r.config.ScanLimit,
		"queue_size", r.config.QueueSize,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.work(ctx)
	}()

	if l, ok := r.source.(api.Listener); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.listen(ctx, l)
		}()
	}

	r.enqueue(request{kind: scanRequest})
	r.enqueue(request{kind: gamificationRequest})

	scanTicker := time.NewTicker(r.config.ScanInterval)
	defer scanTicker.Stop()
	gameTicker := time.NewTicker(r.config.GamificationInterval)
	defer gameTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.logger.Info("daemon stopped")
			return nil
		case <-scanTicker.C:
			r.enqueue(request{kind: scanRequest})
		case <-gameTicker.C:
			r.enqueue(request{kind: gamificationRequest})
		}
	}
}

// Refresh runs a scan now and waits for it. Refreshing reports true while
// it is pending.
func (r *Runner) Refresh(ctx context.Context) error {
	if !r.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer r.refreshing.Store(false)

	r.logger.Info("manual refresh requested")
	done := make(chan error, 1)
	select {
	case r.queue <- request{kind: scanRequest, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refreshing reports whether a manual refresh is pending.
func (r *Runner) Refreshing() bool {
	return r.refreshing.Load()
}

// RequestEvaluation queues an alert evaluation without waiting. It reports
// false when the queue is full.
func (r *Runner) RequestEvaluation() bool {
	return r.enqueue(request{kind: evaluateRequest})
}

// enqueue adds req without blocking. Periodic triggers are dropped while the
// queue is full; the next tick catches up.
func (r *Runner) enqueue(req request) bool {
	select {
	case r.queue <- req:
		return true
	default:
		r.logger.Warn("ingestion queue full, dropping request", "kind", req.kind)
		return false
	}
}

func (r *Runner) listen(ctx context.Context, l api.Listener) {
	msgs := make(chan api.Message)
	errc := make(chan error, 1)
	go func() { errc <- l.Listen(ctx, msgs) }()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("listener stopped", "error", err)
			}
			return
		case msg := <-msgs:
			// Pushed messages are not dropped; the listener waits for room.
			select {
			case r.queue <- request{kind: messageRequest, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.queue:
			err := r.handle(ctx, req)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("request failed", "kind", req.kind, "error", err)
			}
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, req request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recovered from panic", "kind", req.kind, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic handling %s request: %v", req.kind, p)
		}
	}()

	switch req.kind {
	case scanRequest:
		if r.source == nil {
			return r.evaluate(ctx)
		}
		if _, err := r.core.Scan(ctx, r.source, r.config.ScanLimit); err != nil {
			return err
		}
		return r.evaluate(ctx)
	case messageRequest:
		inserted, err := r.core.DetectAndInsert(ctx, req.msg)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		return r.evaluate(ctx)
	case evaluateRequest:
		return r.evaluate(ctx)
	case gamificationRequest:
		return r.core.RunGamification(ctx)
	}
	return fmt.Errorf("unknown request kind %d", req.kind)
}

func (r *Runner) evaluate(ctx context.Context) error {
	state, err := r.core.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluating alerts: %w", err)
	}
	if state.Active != nil {
		r.logger.Debug("active alert", "type", state.Active.Type, "message", state.Active.Message)
	}
	for _, w := range state.Warnings {
		r.logger.Debug("budget warning", "category", w.Category, "percent", w.Percent)
	}
	return nil
}
