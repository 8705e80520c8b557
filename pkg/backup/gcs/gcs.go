// Package gcs implements a backup sink that keeps a JSON snapshot in a
// Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/backup"
)

// DefaultObject is the object name used when none is configured.
const DefaultObject = "spendnudge/backup.json"

// objectStore reads and writes one object.
type objectStore interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Config holds configuration for the GCS sink.
type Config struct {
	Bucket string
	Object string
}

// Sink backs up to a GCS object. Every write is a read-merge-write of the
// whole snapshot, serialised within the process.
type Sink struct {
	store  objectStore
	name   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a GCS sink using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Object == "" {
		cfg.Object = DefaultObject
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	store := &gcsObject{client: client, obj: client.Bucket(cfg.Bucket).Object(cfg.Object)}
	return newSink(store, "gs://"+cfg.Bucket+"/"+cfg.Object, logger), nil
}

func newSink(store objectStore, name string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, name: name, logger: logger}
}

// Close releases the storage client.
func (s *Sink) Close() error {
	return s.store.Close()
}

// WriteTransactions merges txs into the stored snapshot.
func (s *Sink) WriteTransactions(ctx context.Context, txs []api.Transaction) error {
	return s.update(ctx, func(snap *backup.Snapshot) { snap.AddTransactions(txs) })
}

// WriteAllocations replaces a period's allocations in the stored snapshot.
func (s *Sink) WriteAllocations(ctx context.Context, periodStart time.Time, allocations []api.BudgetAllocation) error {
	return s.update(ctx, func(snap *backup.Snapshot) { snap.SetAllocations(periodStart, allocations) })
}

func (s *Sink) update(ctx context.Context, apply func(*backup.Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	apply(snap)
	snap.UpdatedAt = time.Now().UTC()

	data, err := snap.Encode()
	if err != nil {
		return err
	}
	if err := s.store.Write(ctx, data); err != nil {
		return fmt.Errorf("writing %s: %w", s.name, err)
	}
	s.logger.Debug("wrote gcs backup", "object", s.name, "transactions", len(snap.Transactions))
	return nil
}

func (s *Sink) load(ctx context.Context) (*backup.Snapshot, error) {
	data, err := s.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.name, err)
	}
	return backup.DecodeSnapshot(data)
}

// RestoreTransactions returns every backed up transaction.
func (s *Sink) RestoreTransactions(ctx context.Context) ([]api.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Transactions, nil
}

// RestoreAllocations returns every backed up allocation.
func (s *Sink) RestoreAllocations(ctx context.Context) ([]api.BudgetAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.AllAllocations(), nil
}

type gcsObject struct {
	client *storage.Client
	obj    *storage.ObjectHandle
}

// Read returns nil data when the object does not exist yet.
func (o *gcsObject) Read(ctx context.Context) ([]byte, error) {
	r, err := o.obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

func (o *gcsObject) Write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := o.obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write GCS object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

func (o *gcsObject) Close() error {
	return o.client.Close()
}
