// Package json implements a backup sink that keeps a JSON snapshot file.
package json

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/backup"
)

// Sink writes backups to a local JSON file. It also restores from it.
type Sink struct {
	filePath string
	logger   *slog.Logger

	mu       sync.Mutex
	snapshot *backup.Snapshot
}

// Config holds configuration for the JSON sink.
type Config struct {
	// FilePath is the path to the JSON snapshot file.
	FilePath string
}

// New creates a JSON sink, loading the existing snapshot if the file exists.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}

	s := &Sink{filePath: cfg.FilePath, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}

	logger.Info("json backup initialized", "file", cfg.FilePath, "existing_count", len(s.snapshot.Transactions))
	return s, nil
}

func (s *Sink) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading backup file: %w", err)
	}
	snapshot, err := backup.DecodeSnapshot(data)
	if err != nil {
		return err
	}
	s.snapshot = snapshot
	return nil
}

// WriteTransactions merges txs into the snapshot and rewrites the file.
func (s *Sink) WriteTransactions(_ context.Context, txs []api.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.AddTransactions(txs)
	return s.save()
}

// WriteAllocations replaces a period's allocations and rewrites the file.
func (s *Sink) WriteAllocations(_ context.Context, periodStart time.Time, allocations []api.BudgetAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.SetAllocations(periodStart, allocations)
	return s.save()
}

// save writes the snapshot through a temp file so a crash never leaves a
// truncated backup.
func (s *Sink) save() error {
	s.snapshot.UpdatedAt = time.Now().UTC()
	data, err := s.snapshot.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".backup-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("setting backup permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("replacing backup file: %w", err)
	}

	s.logger.Debug("wrote json backup", "transactions", len(s.snapshot.Transactions), "periods", len(s.snapshot.Allocations))
	return nil
}

// RestoreTransactions returns every backed up transaction.
func (s *Sink) RestoreTransactions(context.Context) ([]api.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Transaction(nil), s.snapshot.Transactions...), nil
}

// RestoreAllocations returns every backed up allocation.
func (s *Sink) RestoreAllocations(context.Context) ([]api.BudgetAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.AllAllocations(), nil
}

// TransactionCount returns the number of transactions in the snapshot.
func (s *Sink) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshot.Transactions)
}
