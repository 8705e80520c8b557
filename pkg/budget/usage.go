// Package budget computes monthly budget usage per category.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

var hundred = decimal.NewFromInt(100)

// Spender answers how much was spent in a category over a range.
type Spender interface {
	SumByCategory(ctx context.Context, category api.Category, start, end time.Time) (decimal.Decimal, error)
}

// Usage is spent-versus-budget for one category in one period.
type Usage struct {
	Category      api.Category
	Budget        decimal.Decimal
	Spent         decimal.Decimal
	Percent       int
	AlertsEnabled bool
}

// Percentage returns floor(spent / budget * 100), never below zero. A
// budget of zero or less yields zero.
func Percentage(spent, budget decimal.Decimal) int {
	if !budget.IsPositive() {
		return 0
	}
	p := spent.Mul(hundred).Div(budget).Floor().IntPart()
	if p < 0 {
		return 0
	}
	return int(p)
}

// Calculator derives budget usage from allocations and ledger totals.
type Calculator struct {
	budgets api.BudgetStore
	spender Spender
	backup  api.Backup
	loc     *time.Location
	logger  *slog.Logger
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithBackup hands every changed month of allocations to b.
func WithBackup(b api.Backup) Option {
	return func(c *Calculator) { c.backup = b }
}

// WithLocation sets the zone calendar months are computed in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) { c.loc = loc }
}

// NewCalculator creates a calculator.
func NewCalculator(budgets api.BudgetStore, spender Spender, logger *slog.Logger, opts ...Option) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Calculator{budgets: budgets, spender: spender, loc: time.UTC, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the zone used for calendar computations.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// PeriodFor returns the period start of the month containing t.
func (c *Calculator) PeriodFor(t time.Time) time.Time {
	return MonthStart(t, c.loc)
}

// UsageForPeriod returns usage for every allocation of the month containing
// periodStart, ordered by category.
func (c *Calculator) UsageForPeriod(ctx context.Context, periodStart time.Time) ([]Usage, error) {
	start := MonthStart(periodStart, c.loc)
	end := MonthEnd(start)

	allocations, err := c.budgets.Allocations(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("loading allocations: %w", err)
	}

	usages := make([]Usage, 0, len(allocations))
	for _, a := range allocations {
		spent, err := c.spender.SumByCategory(ctx, a.Category, start, end)
		if err != nil {
			return nil, fmt.Errorf("summing %s: %w", a.Category, err)
		}
		usages = append(usages, Usage{
			Category:      a.Category,
			Budget:        a.Amount,
			Spent:         spent,
			Percent:       Percentage(spent, a.Amount),
			AlertsEnabled: a.AlertsEnabled,
		})
	}
	return usages, nil
}

// SetAllocation creates or replaces the allocation for a category and month.
func (c *Calculator) SetAllocation(ctx context.Context, a api.BudgetAllocation) error {
	if !a.Amount.IsPositive() {
		return fmt.Errorf("budget for %s must be positive, got %s", a.Category, a.Amount)
	}
	a.PeriodStart = MonthStart(a.PeriodStart, c.loc)
	if err := c.budgets.UpsertAllocation(ctx, a); err != nil {
		return fmt.Errorf("saving allocation: %w", err)
	}
	c.logger.Info("budget saved", "category", a.Category, "amount", a.Amount.String(), "period", a.PeriodStart.Format(time.DateOnly))
	c.backupPeriod(ctx, a.PeriodStart)
	return nil
}

// DeleteAllocation removes the allocation for a category and month.
func (c *Calculator) DeleteAllocation(ctx context.Context, category api.Category, periodStart time.Time) error {
	start := MonthStart(periodStart, c.loc)
	if err := c.budgets.DeleteAllocation(ctx, category, start); err != nil {
		return fmt.Errorf("deleting allocation: %w", err)
	}
	c.backupPeriod(ctx, start)
	return nil
}

// Allocations lists a month's allocations ordered by category.
func (c *Calculator) Allocations(ctx context.Context, periodStart time.Time) ([]api.BudgetAllocation, error) {
	return c.budgets.Allocations(ctx, MonthStart(periodStart, c.loc))
}

func (c *Calculator) backupPeriod(ctx context.Context, start time.Time) {
	if c.backup == nil {
		return
	}
	allocations, err := c.budgets.Allocations(ctx, start)
	if err != nil {
		c.logger.Warn("skipping budget backup", "period", start.Format(time.DateOnly), "error", err)
		return
	}
	c.backup.PushAllocations(start, allocations)
}
