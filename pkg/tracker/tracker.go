// Package tracker wires the ledger, budgets, alerts and gamification into
// the operations exposed to the daemon and the CLI.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/alerts"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
	"github.com/ArionMiles/spendnudge/pkg/detector"
	"github.com/ArionMiles/spendnudge/pkg/gamification"
	"github.com/ArionMiles/spendnudge/pkg/ledger"
)

// ScanResult counts the outcome of one scan.
type ScanResult struct {
	Read     int
	Detected int
	Inserted int
}

// RestoreResult counts records pulled from a backup.
type RestoreResult struct {
	Transactions int
	Allocations  int
	// Skipped counts transactions already in the store.
	Skipped int
}

// Tracker is the core facade.
type Tracker struct {
	store    api.Store
	detector *detector.Detector
	ledger   *ledger.Ledger
	budgets  *budget.Calculator
	alerts   *alerts.Engine
	points   *gamification.Ledger
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

type options struct {
	backup api.Backup
	loc    *time.Location
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*options)

// WithBackup hands confirmed transactions and allocation changes to b.
func WithBackup(b api.Backup) Option {
	return func(o *options) { o.backup = b }
}

// WithLocation sets the zone months and days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithClock overrides time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a tracker over store.
func New(store api.Store, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	ledgerOpts := []ledger.Option{ledger.WithClock(o.now)}
	budgetOpts := []budget.Option{budget.WithLocation(o.loc)}
	if o.backup != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithBackup(o.backup))
		budgetOpts = append(budgetOpts, budget.WithBackup(o.backup))
	}

	l := ledger.New(store, logger.With("component", "ledger"), ledgerOpts...)
	calc := budget.NewCalculator(store, l, logger.With("component", "budget"), budgetOpts...)
	engine := alerts.New(calc, l, store, store, logger.With("component", "alerts"),
		alerts.WithLocation(o.loc), alerts.WithClock(o.now))
	points := gamification.New(store, store, store, l, calc, logger.With("component", "gamification"),
		gamification.WithLocation(o.loc), gamification.WithClock(o.now))

	return &Tracker{
		store:    store,
		detector: detector.New(logger.With("component", "detector")),
		ledger:   l,
		budgets:  calc,
		alerts:   engine,
		points:   points,
		loc:      o.loc,
		now:      o.now,
		logger:   logger,
	}
}

// Location returns the zone months and days are computed in.
func (t *Tracker) Location() *time.Location { return t.loc }

// CurrentPeriod returns the start of the current month.
func (t *Tracker) CurrentPeriod() time.Time {
	return t.budgets.PeriodFor(t.now())
}

// DetectAndInsert stores the transaction carried by msg, if any. It reports
// whether a new transaction was inserted; duplicates and non-transaction
// messages return false without error.
func (t *Tracker) DetectAndInsert(ctx context.Context, msg api.Message) (bool, error) {
	tx, ok := t.detector.Detect(msg)
	if !ok {
		return false, nil
	}
	_, inserted, err := t.ledger.Insert(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("storing message %s: %w", msg.ID, err)
	}
	return inserted, nil
}

// Scan reads up to limit of the newest messages from src and inserts every
// new transaction.
func (t *Tracker) Scan(ctx context.Context, src api.MessageSource, limit int) (ScanResult, error) {
	t.logger.Info("scan_start", "limit", limit)

	msgs, err := src.Messages(ctx, limit)
	if err != nil {
		return ScanResult{}, fmt.Errorf("reading messages: %w", err)
	}

	res := ScanResult{Read: len(msgs)}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tx, ok := t.detector.Detect(msg)
		if !ok {
			continue
		}
		res.Detected++
		_, inserted, err := t.ledger.Insert(ctx, tx)
		if err != nil {
			return res, fmt.Errorf("storing message %s: %w", msg.ID, err)
		}
		if inserted {
			res.Inserted++
		}
	}

	t.logger.Info("scan_complete", "read", res.Read, "detected", res.Detected, "inserted", res.Inserted)
	return res, nil
}

// Confirm assigns a category to a pending transaction.
func (t *Tracker) Confirm(ctx context.Context, id int64, category api.Category) error {
	return t.ledger.Confirm(ctx, id, category)
}

// AddManual records a user-entered transaction.
func (t *Tracker) AddManual(ctx context.Context, tx api.Transaction) (int64, error) {
	return t.ledger.AddManual(ctx, tx)
}

// Pending lists transactions awaiting a category, newest first.
func (t *Tracker) Pending(ctx context.Context) ([]api.Transaction, error) {
	return t.ledger.Pending(ctx)
}

// MonthlySummary returns income and expense for the month containing now.
func (t *Tracker) MonthlySummary(ctx context.Context) (ledger.Summary, error) {
	start := t.CurrentPeriod()
	return t.ledger.MonthlySummary(ctx, start, budget.MonthEnd(start))
}

// Analytics breaks down confirmed spending over the last week or the current
// month, with days counted in the tracker's location.
func (t *Tracker) Analytics(ctx context.Context, r ledger.Range) (ledger.Analytics, error) {
	return t.ledger.Analytics(ctx, r, t.loc)
}

// Usage returns budget usage for the current month.
func (t *Tracker) Usage(ctx context.Context) ([]budget.Usage, error) {
	return t.budgets.UsageForPeriod(ctx, t.CurrentPeriod())
}

// SetBudget sets a category's allocation for the current month.
func (t *Tracker) SetBudget(ctx context.Context, category api.Category, amount decimal.Decimal, alertsEnabled bool) error {
	return t.budgets.SetAllocation(ctx, api.BudgetAllocation{
		Category:      category,
		Amount:        amount,
		PeriodStart:   t.CurrentPeriod(),
		AlertsEnabled: alertsEnabled,
	})
}

// ImportBudgets sets every allocation for the current month.
func (t *Tracker) ImportBudgets(ctx context.Context, allocations []api.BudgetAllocation) error {
	for _, a := range allocations {
		a.PeriodStart = t.CurrentPeriod()
		if err := t.budgets.SetAllocation(ctx, a); err != nil {
			return fmt.Errorf("importing %s budget: %w", a.Category, err)
		}
	}
	return nil
}

// Budgets lists the current month's allocations.
func (t *Tracker) Budgets(ctx context.Context) ([]api.BudgetAllocation, error) {
	return t.budgets.Allocations(ctx, t.CurrentPeriod())
}

// DeleteBudget removes a category's allocation for the current month.
func (t *Tracker) DeleteBudget(ctx context.Context, category api.Category) error {
	return t.budgets.DeleteAllocation(ctx, category, t.CurrentPeriod())
}

// EvaluateAlerts runs one alert cycle for the month starting at periodStart.
func (t *Tracker) EvaluateAlerts(ctx context.Context, periodStart time.Time) (alerts.State, error) {
	return t.alerts.Evaluate(ctx, periodStart)
}

// Evaluate runs one alert cycle for the current month.
func (t *Tracker) Evaluate(ctx context.Context) (alerts.State, error) {
	return t.EvaluateAlerts(ctx, t.CurrentPeriod())
}

// AlertState returns the result of the last evaluation.
func (t *Tracker) AlertState() alerts.State {
	return t.alerts.State()
}

// DismissAlert dismisses the active alert.
func (t *Tracker) DismissAlert(ctx context.Context) (api.NudgeEvent, error) {
	return t.alerts.Dismiss(ctx)
}

// DismissWarning hides a category's warning for the rest of the day.
func (t *Tracker) DismissWarning(ctx context.Context, category api.Category) (alerts.State, error) {
	return t.alerts.DismissWarning(ctx, category, t.CurrentPeriod())
}

// BlockMerchant excludes a merchant from pattern alerts for 24 hours.
func (t *Tracker) BlockMerchant(ctx context.Context, merchant string) (api.NudgeEvent, error) {
	return t.alerts.BlockMerchant(ctx, merchant)
}

// RecordAction records the user's reaction to an alert.
func (t *Tracker) RecordAction(ctx context.Context, a alerts.Alert, action string) (api.NudgeEvent, error) {
	return t.alerts.RecordAction(ctx, a, action)
}

// SuggestPatternBudget proposes a spending cap for a merchant.
func (t *Tracker) SuggestPatternBudget(ctx context.Context, merchant string) (decimal.Decimal, error) {
	return t.alerts.SuggestPatternBudget(ctx, merchant)
}

// CreatePatternBudget records a spending cap the user set for a merchant.
func (t *Tracker) CreatePatternBudget(ctx context.Context, merchant string, amount decimal.Decimal) (api.NudgeEvent, error) {
	return t.alerts.CreatePatternBudget(ctx, merchant, amount)
}

// RunGamification processes new nudge events, settles merchant blocks and
// checks the daily under-budget award.
func (t *Tracker) RunGamification(ctx context.Context) error {
	return t.points.Run(ctx)
}

// PointsBalance returns the points total.
func (t *Tracker) PointsBalance(ctx context.Context) (int, error) {
	return t.points.Balance(ctx)
}

// RecentPoints returns up to limit points events, newest first.
func (t *Tracker) RecentPoints(ctx context.Context, limit int) ([]api.PointsEvent, error) {
	return t.points.Recent(ctx, limit)
}

// Achievements returns unlocked achievements.
func (t *Tracker) Achievements(ctx context.Context) ([]api.Achievement, error) {
	return t.points.Achievements(ctx)
}

// Streak returns the consecutive under-budget day count.
func (t *Tracker) Streak(ctx context.Context) int {
	return t.points.Streak(ctx)
}

// Restore pulls confirmed transactions and allocations from a backup into
// the store. Records already present are skipped, so restoring twice is
// safe. Restored records are not pushed back to the backup.
func (t *Tracker) Restore(ctx context.Context, r api.Restorer) (RestoreResult, error) {
	var res RestoreResult

	txs, err := r.RestoreTransactions(ctx)
	if err != nil {
		return res, fmt.Errorf("restoring transactions: %w", err)
	}
	existing, err := t.ledger.Fingerprints(ctx)
	if err != nil {
		return res, fmt.Errorf("loading fingerprints: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, fp := range existing {
		seen[fp] = true
	}

	keep := make([]api.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Status != api.Confirmed {
			continue
		}
		if tx.Fingerprint == "" {
			tx.Fingerprint = detector.TransactionFingerprint(tx)
		}
		if seen[tx.Fingerprint] {
			res.Skipped++
			continue
		}
		seen[tx.Fingerprint] = true
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = t.now()
		}
		keep = append(keep, tx)
	}
	if res.Transactions, err = t.importTransactions(ctx, keep); err != nil {
		return res, err
	}

	allocs, err := r.RestoreAllocations(ctx)
	if err != nil {
		return res, fmt.Errorf("restoring allocations: %w", err)
	}
	for _, a := range allocs {
		if !a.Amount.IsPositive() {
			continue
		}
		// Backups may carry the period in another zone; keep its calendar month.
		a.PeriodStart = time.Date(a.PeriodStart.Year(), a.PeriodStart.Month(), 1, 0, 0, 0, 0, t.loc)
		if err := t.store.UpsertAllocation(ctx, a); err != nil {
			return res, fmt.Errorf("upserting restored %s allocation: %w", a.Category, err)
		}
		res.Allocations++
	}

	t.logger.Info("restore complete", "transactions", res.Transactions, "skipped", res.Skipped, "allocations", res.Allocations)
	return res, nil
}

// bulkImporter is implemented by stores that can insert many transactions
// in one round trip.
type bulkImporter interface {
	ImportTransactions(ctx context.Context, txs []api.Transaction) (int, error)
}

func (t *Tracker) importTransactions(ctx context.Context, txs []api.Transaction) (int, error) {
	if bi, ok := t.store.(bulkImporter); ok {
		n, err := bi.ImportTransactions(ctx, txs)
		if err != nil {
			return 0, fmt.Errorf("importing restored transactions: %w", err)
		}
		return n, nil
	}

	n := 0
	for _, tx := range txs {
		_, inserted, err := t.store.InsertTransaction(ctx, tx)
		if err != nil {
			return n, fmt.Errorf("inserting restored transaction: %w", err)
		}
		if inserted {
			n++
		}
	}
	return n, nil
}
