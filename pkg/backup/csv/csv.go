// Package csv implements an append-only backup sink that writes transactions
// and budget allocations to CSV files.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

var (
	transactionHeaders = []string{"ID", "Occurred At", "Amount", "Direction", "Category", "Merchant", "Source", "Status", "Fingerprint"}
	allocationHeaders  = []string{"Period", "Category", "Amount", "Alerts"}
)

// Config holds configuration for the CSV sink.
type Config struct {
	// FilePath is the transactions CSV file.
	FilePath string
	// BudgetsFilePath is the allocations CSV file. Allocations are not
	// written when it is empty.
	BudgetsFilePath string
}

// Sink appends records to CSV files. It does not support restore.
type Sink struct {
	logger *slog.Logger

	mu      sync.Mutex
	txs     *csvFile
	budgets *csvFile
}

type csvFile struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// New opens (or creates) the configured files and writes headers to empty ones.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}

	txs, err := openCSV(cfg.FilePath, transactionHeaders)
	if err != nil {
		return nil, err
	}
	s := &Sink{logger: logger, txs: txs}

	if cfg.BudgetsFilePath != "" {
		budgets, err := openCSV(cfg.BudgetsFilePath, allocationHeaders)
		if err != nil {
			if closeErr := txs.file.Close(); closeErr != nil {
				return nil, fmt.Errorf("%w (close error: %w)", err, closeErr)
			}
			return nil, err
		}
		s.budgets = budgets
	}

	logger.Info("csv backup initialized", "file", cfg.FilePath, "budgets_file", cfg.BudgetsFilePath)
	return s, nil
}

func openCSV(path string, headers []string) (*csvFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	f := &csvFile{path: path, file: file, writer: csv.NewWriter(file)}

	stat, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("stat csv file: %w (close error: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if stat.Size() == 0 {
		if err := f.write([][]string{headers}); err != nil {
			if closeErr := file.Close(); closeErr != nil {
				return nil, fmt.Errorf("writing headers: %w (close error: %w)", err, closeErr)
			}
			return nil, fmt.Errorf("writing headers: %w", err)
		}
	}
	return f, nil
}

func (f *csvFile) write(records [][]string) error {
	for _, r := range records {
		if err := f.writer.Write(r); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}
	f.writer.Flush()
	if err := f.writer.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// WriteTransactions appends one row per transaction.
func (s *Sink) WriteTransactions(_ context.Context, txs []api.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([][]string, 0, len(txs))
	for _, t := range txs {
		records = append(records, []string{
			strconv.FormatInt(t.ID, 10),
			t.OccurredAt.UTC().Format(time.RFC3339),
			t.Amount.StringFixed(2),
			string(t.Direction),
			t.CategoryName(),
			t.Merchant,
			string(t.Source),
			string(t.Status),
			t.Fingerprint,
		})
	}
	if err := s.txs.write(records); err != nil {
		return err
	}

	s.logger.Debug("wrote transactions to csv", "count", len(txs))
	return nil
}

// WriteAllocations appends the period's allocations. Readers should treat
// the last rows for a period as current.
func (s *Sink) WriteAllocations(_ context.Context, periodStart time.Time, allocations []api.BudgetAllocation) error {
	if s.budgets == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	period := periodStart.Format("2006-01")
	records := make([][]string, 0, len(allocations))
	for _, a := range allocations {
		records = append(records, []string{period, string(a.Category), a.Amount.StringFixed(2), strconv.FormatBool(a.AlertsEnabled)})
	}
	if err := s.budgets.write(records); err != nil {
		return err
	}

	s.logger.Debug("wrote allocations to csv", "period", period, "count", len(allocations))
	return nil
}

// Close flushes and closes the files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range []*csvFile{s.txs, s.budgets} {
		if f == nil {
			continue
		}
		f.writer.Flush()
		if err := f.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", f.path, err))
		}
	}

	s.logger.Info("csv backup closed", "file", s.txs.path)
	return errors.Join(errs...)
}
