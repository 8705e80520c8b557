// Package alerts evaluates budget and spending-pattern rules into one
// blocking alert plus any number of near-limit warnings.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
)

// ErrNoActiveAlert is returned when acting on an alert while none is active.
var ErrNoActiveAlert = errors.New("no active alert")

// Nudge event types recorded by the engine.
const (
	NudgeMerchantBlock  = "merchant_block_24h"
	NudgeMerchantRepeat = "merchant_3x"
	NudgeCategorySpree  = "category_5x"
	NudgeHighValue      = "highvalue_3x"
	NudgePatternPrefix  = "pattern_"

	ActionDismiss = "dismiss"
	ActionBlock   = "block"
)

// DefaultPatternBudget is suggested when a merchant has no recent spending.
var DefaultPatternBudget = decimal.NewFromInt(300)

var patternBudgetFactor = decimal.NewFromFloat(0.8)

var patternNudges = map[string]string{
	TypeMerchantRepeat:  NudgeMerchantRepeat,
	TypeCategorySpree:   NudgeCategorySpree,
	TypeHighValueRepeat: NudgeHighValue,
}

// UsageSource computes budget usage for a month.
type UsageSource interface {
	UsageForPeriod(ctx context.Context, periodStart time.Time) ([]budget.Usage, error)
}

// ExpenseSource lists confirmed transactions in a range.
type ExpenseSource interface {
	ExpensesBetween(ctx context.Context, start, end time.Time) ([]api.Transaction, error)
}

// State is the outcome of an evaluation.
type State struct {
	Active   *Alert
	Warnings []Warning
}

// Engine runs the alert rules and owns the active alert slot.
type Engine struct {
	usage    UsageSource
	expenses ExpenseSource
	nudges   api.NudgeStore
	prefs    api.PreferenceStore
	rules    []Rule
	loc      *time.Location
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules replaces the default rule list.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// WithLocation sets the zone calendar days are computed in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an alert engine.
func New(usage UsageSource, expenses ExpenseSource, nudges api.NudgeStore, prefs api.PreferenceStore, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		usage:    usage,
		expenses: expenses,
		nudges:   nudges,
		prefs:    prefs,
		rules:    DefaultRules(),
		loc:      time.UTC,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the result of the last evaluation.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyState(e.state)
}

// Evaluate runs one cycle for the month starting at periodStart.
func (e *Engine) Evaluate(ctx context.Context, periodStart time.Time) (State, error) {
	now := e.now()

	day, err := LoadDayState(ctx, e.prefs, now, e.loc)
	if err != nil {
		return State{}, err
	}

	usages, err := e.usage.UsageForPeriod(ctx, periodStart)
	if err != nil {
		return State{}, fmt.Errorf("computing budget usage: %w", err)
	}

	dayStart := budget.DayStart(now, e.loc)
	dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)
	confirmed, err := e.expenses.ExpensesBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return State{}, fmt.Errorf("loading today's expenses: %w", err)
	}

	today := make([]api.Transaction, 0, len(confirmed))
	for _, tx := range confirmed {
		if tx.Direction != api.Debit || day.MerchantBlocked(tx.Merchant) {
			continue
		}
		today = append(today, tx)
	}

	in := Input{Usages: usages, Today: today, Day: day}
	next := State{Warnings: Warnings(in)}
	if a, ok := FirstMatch(e.rules, in); ok {
		next.Active = &a
	}

	e.mu.Lock()
	prev := e.state.Active
	e.state = next
	e.mu.Unlock()

	if next.Active != nil && (prev == nil || prev.Key() != next.Active.Key()) {
		e.logger.Info("alert raised", "type", next.Active.Type, "subject", next.Active.Subject, "message", next.Active.Message)
		if nudge, ok := patternNudges[next.Active.Type]; ok {
			if _, err := e.appendNudge(ctx, nudge, next.Active.Subject, ""); err != nil {
				e.logger.Warn("failed to record pattern nudge", "error", err)
			}
		}
	}

	return copyState(next), nil
}

// Dismiss clears the active alert and records the dismissal. The same
// alert is not raised again today.
func (e *Engine) Dismiss(ctx context.Context) (api.NudgeEvent, error) {
	e.mu.Lock()
	active := e.state.Active
	e.mu.Unlock()
	if active == nil {
		return api.NudgeEvent{}, ErrNoActiveAlert
	}
	return e.RecordAction(ctx, *active, ActionDismiss)
}

// RecordAction records the user's reaction to an alert and clears it from
// the active slot.
func (e *Engine) RecordAction(ctx context.Context, a Alert, action string) (api.NudgeEvent, error) {
	ev, err := e.appendNudge(ctx, a.Type, a.Subject, action)
	if err != nil {
		return api.NudgeEvent{}, err
	}
	if err := e.prefs.AddMember(ctx, alertsKey(budget.DayKey(ev.OccurredAt, e.loc)), a.Key()); err != nil {
		e.logger.Warn("failed to persist alert suppression", "alert", a.Key(), "error", err)
	}
	e.clearActive(func(active Alert) bool { return active.Key() == a.Key() })

	e.logger.Info("alert action", "type", a.Type, "subject", a.Subject, "action", action)
	return ev, nil
}

// DismissWarning hides a category's near-limit warning for the rest of the
// day and re-evaluates.
func (e *Engine) DismissWarning(ctx context.Context, category api.Category, periodStart time.Time) (State, error) {
	day := budget.DayKey(e.now(), e.loc)
	if err := e.prefs.AddMember(ctx, warningsKey(day), string(category)); err != nil {
		return State{}, fmt.Errorf("persisting dismissed warning: %w", err)
	}
	return e.Evaluate(ctx, periodStart)
}

// BlockMerchant removes a merchant from pattern evaluation for 24 hours.
// Ledger totals still include the merchant.
func (e *Engine) BlockMerchant(ctx context.Context, merchant string) (api.NudgeEvent, error) {
	name := strings.ToLower(strings.TrimSpace(merchant))
	if name == "" {
		return api.NudgeEvent{}, errors.New("merchant name is empty")
	}

	now := e.now()
	if err := e.prefs.SetMarker(ctx, blockedUntilKey(name), now.Add(BlockWindow).Format(time.RFC3339Nano)); err != nil {
		return api.NudgeEvent{}, fmt.Errorf("persisting block expiry: %w", err)
	}
	if err := e.prefs.AddMember(ctx, blockedKey(budget.DayKey(now, e.loc)), name); err != nil {
		return api.NudgeEvent{}, fmt.Errorf("persisting blocked merchant: %w", err)
	}

	ev, err := e.appendNudge(ctx, NudgeMerchantBlock, merchant, ActionBlock)
	if err != nil {
		return api.NudgeEvent{}, err
	}
	e.clearActive(func(active Alert) bool {
		return active.Pattern() && strings.EqualFold(active.Subject, merchant)
	})

	e.logger.Info("merchant blocked", "merchant", name, "until", now.Add(BlockWindow))
	return ev, nil
}

// RecordPatternAction logs a follow-up the user took on a pattern alert.
func (e *Engine) RecordPatternAction(ctx context.Context, action, details string) (api.NudgeEvent, error) {
	return e.appendNudge(ctx, NudgePatternPrefix+action, details, action)
}

// CreatePatternBudget records a spending cap the user set for a merchant.
func (e *Engine) CreatePatternBudget(ctx context.Context, merchant string, amount decimal.Decimal) (api.NudgeEvent, error) {
	if !amount.IsPositive() {
		return api.NudgeEvent{}, fmt.Errorf("pattern budget must be positive, got %s", amount)
	}
	return e.RecordPatternAction(ctx, "budget_set", fmt.Sprintf("%s:₹%s", merchant, amount.StringFixed(0)))
}

// SuggestPatternBudget proposes a cap for a merchant: 80% of the average of
// its three most recent confirmed debits in the last week, or
// DefaultPatternBudget when there are none.
func (e *Engine) SuggestPatternBudget(ctx context.Context, merchant string) (decimal.Decimal, error) {
	now := e.now()
	txs, err := e.expenses.ExpensesBetween(ctx, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("loading recent expenses: %w", err)
	}

	var recent []decimal.Decimal
	for _, tx := range txs {
		if tx.Direction == api.Debit && strings.EqualFold(tx.Merchant, merchant) {
			recent = append(recent, tx.Amount)
			if len(recent) == 3 {
				break
			}
		}
	}
	if len(recent) == 0 {
		return DefaultPatternBudget, nil
	}
	return decimal.Avg(recent[0], recent[1:]...).Mul(patternBudgetFactor), nil
}

func (e *Engine) appendNudge(ctx context.Context, typ, category, action string) (api.NudgeEvent, error) {
	ev := api.NudgeEvent{
		ID:         e.newID(),
		Type:       typ,
		Category:   category,
		Action:     action,
		OccurredAt: e.now(),
	}
	if err := e.nudges.AppendNudge(ctx, ev); err != nil {
		return api.NudgeEvent{}, fmt.Errorf("recording nudge %s: %w", typ, err)
	}
	return ev, nil
}

func (e *Engine) clearActive(match func(Alert) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Active != nil && match(*e.state.Active) {
		e.state.Active = nil
	}
}

func copyState(s State) State {
	out := State{Warnings: append([]Warning(nil), s.Warnings...)}
	if s.Active != nil {
		a := *s.Active
		out.Active = &a
	}
	return out
}
