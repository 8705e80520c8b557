package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/alerts"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/tracker"
)

type fakeCore struct {
	scans        atomic.Int32
	evaluations  atomic.Int32
	gamification atomic.Int32

	mu        sync.Mutex
	inserted  []api.Message
	scanErr   error
	panicScan bool
	release   chan struct{}
}

func (c *fakeCore) Scan(context.Context, api.MessageSource, int) (tracker.ScanResult, error) {
	if c.release != nil {
		<-c.release
	}
	c.scans.Add(1)
	if c.panicScan {
		panic("scanner exploded")
	}
	return tracker.ScanResult{}, c.scanErr
}

func (c *fakeCore) DetectAndInsert(_ context.Context, msg api.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserted = append(c.inserted, msg)
	return true, nil
}

func (c *fakeCore) Evaluate(context.Context) (alerts.State, error) {
	c.evaluations.Add(1)
	return alerts.State{}, nil
}

func (c *fakeCore) RunGamification(context.Context) error {
	c.gamification.Add(1)
	return nil
}

func (c *fakeCore) insertedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inserted)
}

type nopSource struct{}

func (nopSource) Messages(context.Context, int) ([]api.Message, error) { return nil, nil }

type pushSource struct {
	nopSource
	msgs []api.Message
}

func (s *pushSource) Listen(ctx context.Context, out chan<- api.Message) error {
	for _, m := range s.msgs {
		select {
		case out <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startRunner(t *testing.T, core Core, src api.MessageSource, cfg Config) (*Runner, func()) {
	t.Helper()
	r := New(core, src, cfg, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return r, func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
	}
}

func TestRunScansAndEvaluatesOnStart(t *testing.T) {
	core := &fakeCore{}
	_, stop := startRunner(t, core, nopSource{}, Config{ScanInterval: time.Hour})
	defer stop()

	waitFor(t, "initial scan", func() bool { return core.scans.Load() == 1 && core.evaluations.Load() == 1 })
	waitFor(t, "initial gamification", func() bool { return core.gamification.Load() == 1 })
}

func TestPeriodicScan(t *testing.T) {
	core := &fakeCore{}
	_, stop := startRunner(t, core, nopSource{}, Config{ScanInterval: 10 * time.Millisecond})
	defer stop()

	waitFor(t, "periodic scans", func() bool { return core.scans.Load() >= 3 })
}

func TestRefresh(t *testing.T) {
	core := &fakeCore{}
	r, stop := startRunner(t, core, nopSource{}, Config{ScanInterval: time.Hour})
	defer stop()

	waitFor(t, "initial scan", func() bool { return core.scans.Load() == 1 })

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := core.scans.Load(); got != 2 {
		t.Errorf("scans: got %d, want 2", got)
	}
	if r.Refreshing() {
		t.Error("still refreshing after Refresh returned")
	}

	core.scanErr = errors.New("source unavailable")
	if err := r.Refresh(context.Background()); err == nil {
		t.Error("expected scan error from Refresh")
	}
}

func TestRefreshInProgress(t *testing.T) {
	core := &fakeCore{release: make(chan struct{})}
	r, stop := startRunner(t, core, nopSource{}, Config{ScanInterval: time.Hour})
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- r.Refresh(context.Background()) }()
	waitFor(t, "refresh flag", r.Refreshing)

	if err := r.Refresh(context.Background()); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("second refresh: got %v, want ErrRefreshInProgress", err)
	}

	close(core.release)
	if err := <-errc; err != nil {
		t.Errorf("first refresh: %v", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	core := &fakeCore{panicScan: true}
	r, stop := startRunner(t, core, nopSource{}, Config{ScanInterval: time.Hour})
	defer stop()

	waitFor(t, "initial scan", func() bool { return core.scans.Load() == 1 })

	if err := r.Refresh(context.Background()); err == nil {
		t.Error("expected panic to surface as an error")
	}
	core.panicScan = false
	if !r.RequestEvaluation() {
		t.Fatal("evaluation request dropped")
	}
	waitFor(t, "evaluation after panic", func() bool { return core.evaluations.Load() >= 1 })
}

func TestListenerMessagesAreIngested(t *testing.T) {
	core := &fakeCore{}
	src := &pushSource{msgs: []api.Message{
		{Sender: "HDFCBK", Body: "Rs.10 debited", Timestamp: 1},
		{Sender: "HDFCBK", Body: "Rs.20 debited", Timestamp: 2},
	}}
	_, stop := startRunner(t, core, src, Config{ScanInterval: time.Hour})
	defer stop()

	waitFor(t, "pushed messages", func() bool { return core.insertedCount() == 2 })
	waitFor(t, "evaluations", func() bool { return core.evaluations.Load() >= 3 })
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	r := New(&fakeCore{}, nopSource{}, Config{QueueSize: 1}, quietLogger())
	if !r.RequestEvaluation() {
		t.Fatal("first request dropped")
	}
	if r.RequestEvaluation() {
		t.Error("second request should be dropped with a full queue")
	}
}
