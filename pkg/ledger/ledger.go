// Package ledger owns the transaction lifecycle: deduplicated inserts,
// pending to confirmed transitions and aggregate queries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/detector"
)

// ErrNotFound is returned when confirming an unknown transaction.
var ErrNotFound = api.ErrNotFound

// ErrDuplicate is returned when a manual entry matches a stored one in
// amount, direction, category, merchant and time.
var ErrDuplicate = errors.New("duplicate transaction")

// Summary is the income and expense of a range.
type Summary struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Balance decimal.Decimal
}

// Ledger is the transaction ledger.
type Ledger struct {
	store  api.TransactionStore
	backup api.Backup
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithBackup hands confirmed transactions to b after they are stored.
func WithBackup(b api.Backup) Option {
	return func(l *Ledger) { l.backup = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over store.
func New(store api.TransactionStore, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Insert stores tx. inserted is false when a transaction with the same
// fingerprint already exists; that is not an error.
func (l *Ledger) Insert(ctx context.Context, tx api.Transaction) (id int64, inserted bool, err error) {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.now()
	}

	id, inserted, err = l.store.InsertTransaction(ctx, tx)
	if err != nil {
		return 0, false, fmt.Errorf("inserting transaction: %w", err)
	}
	if !inserted {
		l.logger.Debug("sms_duplicate", "fingerprint", tx.Fingerprint, "id", id)
		return id, false, nil
	}

	tx.ID = id
	l.logger.Info("sms_insert",
		"id", id,
		"amount", tx.Amount.String(),
		"direction", tx.Direction,
		"status", tx.Status,
		"merchant", tx.Merchant,
	)
	if tx.Status == api.Confirmed {
		l.pushBackup(tx)
	}
	return id, true, nil
}

// AddManual records a user-entered transaction. Manual transactions are
// always confirmed, and debits need a category.
func (l *Ledger) AddManual(ctx context.Context, tx api.Transaction) (int64, error) {
	if !tx.Amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", tx.Amount)
	}
	if tx.Direction == api.Debit && tx.Category == nil {
		return 0, errors.New("manual debit needs a category")
	}
	tx.Source = api.Manual
	tx.Status = api.Confirmed
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = l.now()
	}
	tx.Fingerprint = detector.TransactionFingerprint(tx)

	id, inserted, err := l.Insert(ctx, tx)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return id, fmt.Errorf("%w: matches transaction %d", ErrDuplicate, id)
	}
	return id, nil
}

// Confirm assigns a category to a pending transaction and confirms it.
// Confirming an already confirmed transaction is a no-op, so the first
// category wins. Unknown ids return ErrNotFound.
func (l *Ledger) Confirm(ctx context.Context, id int64, category api.Category) error {
	tx, changed, err := l.store.ConfirmTransaction(ctx, id, category)
	if err != nil {
		l.logger.Warn("confirm failed", "id", id, "category", category, "error", err)
		return fmt.Errorf("confirming transaction %d: %w", id, err)
	}
	if !changed {
		l.logger.Debug("confirm skipped, already confirmed", "id", id)
		return nil
	}

	l.logger.Info("confirm", "id", id, "category", category, "amount", tx.Amount.String())
	l.pushBackup(tx)
	return nil
}

// Transaction returns a transaction by id.
func (l *Ledger) Transaction(ctx context.Context, id int64) (api.Transaction, error) {
	return l.store.Transaction(ctx, id)
}

// SumByCategory sums confirmed debits of a category within [start, end].
func (l *Ledger) SumByCategory(ctx context.Context, category api.Category, start, end time.Time) (decimal.Decimal, error) {
	sum, err := l.store.SumDebits(ctx, category, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing %s: %w", category, err)
	}
	return sum, nil
}

// MonthlySummary sums confirmed income and expense within [start, end].
func (l *Ledger) MonthlySummary(ctx context.Context, start, end time.Time) (Summary, error) {
	income, expense, err := l.store.SumByDirection(ctx, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("summarising range: %w", err)
	}
	return Summary{Income: income, Expense: expense, Balance: income.Sub(expense)}, nil
}

// ExpensesBetween lists confirmed transactions within [start, end], newest
// first.
func (l *Ledger) ExpensesBetween(ctx context.Context, start, end time.Time) ([]api.Transaction, error) {
	txs, err := l.store.ConfirmedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing confirmed transactions: %w", err)
	}
	return txs, nil
}

// Pending lists transactions awaiting a category, newest first.
func (l *Ledger) Pending(ctx context.Context) ([]api.Transaction, error) {
	txs, err := l.store.PendingTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}
	return txs, nil
}

// DebitsForMerchantBetween lists debits, pending or confirmed, whose merchant
// equals merchant (case-insensitive) within [start, end].
func (l *Ledger) DebitsForMerchantBetween(ctx context.Context, merchant string, start, end time.Time) ([]api.Transaction, error) {
	confirmed, err := l.ExpensesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	pending, err := l.Pending(ctx)
	if err != nil {
		return nil, err
	}

	var out []api.Transaction
	for _, tx := range append(confirmed, pending...) {
		if tx.Direction != api.Debit || !strings.EqualFold(tx.Merchant, merchant) {
			continue
		}
		if tx.OccurredAt.Before(start) || tx.OccurredAt.After(end) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// Fingerprints returns every stored fingerprint.
func (l *Ledger) Fingerprints(ctx context.Context) ([]string, error) {
	return l.store.Fingerprints(ctx)
}

func (l *Ledger) pushBackup(tx api.Transaction) {
	if l.backup != nil {
		l.backup.PushTransaction(tx)
	}
}
