// Package backup hands confirmed transactions and budget allocations to a
// remote sink in batches, off the caller's goroutine.
package backup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// Defaults for the dispatcher.
const (
	DefaultQueueSize       = 256
	DefaultBatchSize       = 10
	DefaultFlushInterval   = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds dispatcher settings.
type Config struct {
	// QueueSize bounds records waiting to be batched. Pushes beyond it are
	// dropped.
	QueueSize int
	// BatchSize is the number of transactions buffered before flushing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
	// ShutdownTimeout bounds the final flush.
	ShutdownTimeout time.Duration
}

type record struct {
	tx          *api.Transaction
	period      time.Time
	allocations []api.BudgetAllocation
}

// Dispatcher implements api.Backup over an api.BackupSink. Pushes never
// block; sink failures are logged and dropped.
type Dispatcher struct {
	sink   api.BackupSink
	config Config
	logger *slog.Logger

	in      chan record
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64

	// state guards started and closed.
	state   sync.Mutex
	started bool
	closed  bool

	mu          sync.Mutex
	buffer      []api.Transaction
	allocations map[time.Time][]api.BudgetAllocation
}

// New creates a dispatcher for sink. Call Run to start delivering.
func New(sink api.BackupSink, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		sink:        sink,
		config:      cfg,
		logger:      logger,
		in:          make(chan record, cfg.QueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		buffer:      make([]api.Transaction, 0, cfg.BatchSize),
		allocations: make(map[time.Time][]api.BudgetAllocation),
	}
}

// PushTransaction queues tx for backup.
func (d *Dispatcher) PushTransaction(tx api.Transaction) {
	d.push(record{tx: &tx})
}

// PushAllocations queues the full allocation set of a period. A later push
// for the same period replaces an earlier one not yet delivered.
func (d *Dispatcher) PushAllocations(periodStart time.Time, allocations []api.BudgetAllocation) {
	d.push(record{period: periodStart, allocations: append([]api.BudgetAllocation(nil), allocations...)})
}

func (d *Dispatcher) push(r record) {
	select {
	case d.in <- r:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("backup queue full, dropping record", "dropped_total", n)
	}
}

// Dropped returns how many records were dropped because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued records until ctx is canceled or Close is called,
// then flushes whatever is left. Run returns immediately if Close was
// already called.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.state.Lock()
	if d.closed || d.started {
		d.state.Unlock()
		return nil
	}
	d.started = true
	d.state.Unlock()
	defer close(d.done)

	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	d.logger.Info("backup dispatcher started",
		"batch_size", d.config.BatchSize,
		"flush_interval", d.config.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return ctx.Err()
		case <-d.stop:
			d.shutdown()
			return nil
		case <-ticker.C:
			d.flush(ctx)
		case r := <-d.in:
			if d.add(r) {
				d.flush(ctx)
			}
		}
	}
}

// Close stops Run and waits for the final flush. If Run was never started,
// Close flushes synchronously.
func (d *Dispatcher) Close() {
	d.state.Lock()
	first := !d.closed
	if first {
		d.closed = true
		close(d.stop)
	}
	started := d.started
	d.state.Unlock()

	if started {
		<-d.done
		return
	}
	if first {
		d.shutdown()
	}
}

func (d *Dispatcher) shutdown() {
	d.logger.Info("backup dispatcher stopping, flushing remaining records")
	for {
		select {
		case r := <-d.in:
			d.add(r)
			continue
		default:
		}
		break
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
	defer cancel()
	d.flush(ctx)
}

// add buffers r and reports whether the transaction batch is full.
func (d *Dispatcher) add(r record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.tx != nil {
		d.buffer = append(d.buffer, *r.tx)
		return len(d.buffer) >= d.config.BatchSize
	}
	d.allocations[r.period] = r.allocations
	return true
}

func (d *Dispatcher) flush(ctx context.Context) {
	d.mu.Lock()
	txs := d.buffer
	allocations := d.allocations
	d.buffer = make([]api.Transaction, 0, d.config.BatchSize)
	d.allocations = make(map[time.Time][]api.BudgetAllocation)
	d.mu.Unlock()

	if len(txs) > 0 {
		if err := d.sink.WriteTransactions(ctx, txs); err != nil {
			d.logger.Error("failed to back up transactions", "count", len(txs), "error", err)
		} else {
			d.logger.Info("backed up transactions", "count", len(txs))
		}
	}
	for period, allocs := range allocations {
		if err := d.sink.WriteAllocations(ctx, period, allocs); err != nil {
			d.logger.Error("failed to back up allocations", "period", period.Format(time.DateOnly), "error", err)
		} else {
			d.logger.Info("backed up allocations", "period", period.Format(time.DateOnly), "count", len(allocs))
		}
	}
}

// BufferLen returns the number of buffered transactions.
func (d *Dispatcher) BufferLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}
