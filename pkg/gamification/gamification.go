// Package gamification turns nudge events and budget discipline into
// points, streaks and achievements.
package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/alerts"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
)

// Point values.
const (
	UnderBudgetDayPoints = 10
	ImpulseSkippedPoints = 5
	BudgetExceededPoints = -5
)

// Persisted markers.
const (
	markerLastAwarded = "gamification_last_under_budget_day"
	markerStreakDay   = "gamification_streak_day"
	markerStreakCount = "gamification_streak_count"
	markerCursor      = "gamification_event_cursor"
)

var patternTypePrefixes = []string{"MERCHANT_", "CATEGORY_", "HIGHVALUE_"}

// UsageSource computes budget usage for a month.
type UsageSource interface {
	UsageForPeriod(ctx context.Context, periodStart time.Time) ([]budget.Usage, error)
}

// DebitSource lists debits for a merchant within a range.
type DebitSource interface {
	DebitsForMerchantBetween(ctx context.Context, merchant string, start, end time.Time) ([]api.Transaction, error)
}

type achievementRule struct {
	key, title, description string
	unlocked                func(counts) bool
}

type counts struct {
	total, impulse, underBudget, streak int
}

var achievementRules = []achievementRule{
	{"STARTER", "First Steps", "Earned your first points", func(c counts) bool { return c.total >= 1 }},
	{"CONSISTENT", "Consistent", "Logged 20 points events", func(c counts) bool { return c.total >= 20 }},
	{"IMPULSE_SLAYER", "Impulse Slayer", "Skipped 5 impulse purchases", func(c counts) bool { return c.impulse >= 5 }},
	{"BUDGET_MASTER", "Budget Master", "Stayed under budget for 7 days", func(c counts) bool { return c.underBudget >= 7 }},
	{"SAVINGS_STREAK", "Savings Streak", "Stayed under budget 3 days in a row", func(c counts) bool { return c.streak >= 3 }},
}

// Ledger is the points ledger.
type Ledger struct {
	points api.PointsStore
	prefs  api.PreferenceStore
	nudges api.NudgeStore
	debits DebitSource
	usage  UsageSource
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocation sets the zone calendar days are computed in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a points ledger.
func New(points api.PointsStore, prefs api.PreferenceStore, nudges api.NudgeStore, debits DebitSource, usage UsageSource, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		points: points,
		prefs:  prefs,
		nudges: nudges,
		debits: debits,
		usage:  usage,
		loc:    time.UTC,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// pointsFor maps a nudge event to at most one points award. Types and
// actions are matched case-insensitively.
func pointsFor(e api.NudgeEvent) (api.PointsEvent, bool) {
	typ := strings.ToLower(e.Type)
	switch {
	case strings.HasPrefix(typ, strings.ToLower(alerts.TypeOverspend)):
		return api.PointsEvent{
			Delta:   BudgetExceededPoints,
			Reason:  api.BudgetExceeded,
			Details: "Budget exceeded: " + e.Category,
		}, true
	case strings.EqualFold(e.Action, alerts.ActionDismiss) && hasAnyPrefix(typ, patternTypePrefixes):
		return api.PointsEvent{
			Delta:   ImpulseSkippedPoints,
			Reason:  api.ImpulseSkipped,
			Details: "Dismissed impulse alert: " + e.Category,
		}, true
	}
	return api.PointsEvent{}, false
}

// ProcessEvents awards points for each event that maps to an award. Events
// already awarded are skipped, so replaying a stream is safe. It returns the
// number of new awards.
func (l *Ledger) ProcessEvents(ctx context.Context, events []api.NudgeEvent) (int, error) {
	awarded := 0
	for _, e := range events {
		p, ok := pointsFor(e)
		if !ok {
			continue
		}
		p.SourceEventID = e.ID
		p.OccurredAt = l.now()

		inserted, err := l.points.InsertPoints(ctx, p)
		if err != nil {
			return awarded, fmt.Errorf("awarding points for event %s: %w", e.ID, err)
		}
		if inserted {
			awarded++
			l.logger.Info("points awarded", "event", e.ID, "type", e.Type, "delta", p.Delta, "reason", p.Reason)
		}
	}
	if awarded > 0 {
		if err := l.unlockAchievements(ctx); err != nil {
			return awarded, err
		}
	}
	return awarded, nil
}

// SettleMerchantBlocks rewards every merchant block whose 24 hour window has
// ended without a debit at that merchant. Each block is settled at most
// once, the first time it is observed after its window.
func (l *Ledger) SettleMerchantBlocks(ctx context.Context) (int, error) {
	now := l.now()
	events, err := l.nudges.NudgesSince(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("loading nudge events: %w", err)
	}

	awarded := 0
	for _, e := range events {
		if e.Type != alerts.NudgeMerchantBlock {
			continue
		}
		windowEnd := e.OccurredAt.Add(alerts.BlockWindow)
		if now.Before(windowEnd) {
			continue
		}

		debits, err := l.debits.DebitsForMerchantBetween(ctx, e.Category, e.OccurredAt, windowEnd)
		if err != nil {
			return awarded, fmt.Errorf("checking debits for %s: %w", e.Category, err)
		}
		if len(debits) > 0 {
			continue
		}

		inserted, err := l.points.InsertPoints(ctx, api.PointsEvent{
			SourceEventID: e.ID,
			Delta:         ImpulseSkippedPoints,
			Reason:        api.ImpulseSkipped,
			Details:       "Skipped " + e.Category + " for 24h",
			OccurredAt:    now,
		})
		if err != nil {
			return awarded, fmt.Errorf("awarding merchant block %s: %w", e.ID, err)
		}
		if inserted {
			awarded++
			l.logger.Info("merchant block rewarded", "merchant", e.Category, "event", e.ID)
		}
	}
	if awarded > 0 {
		if err := l.unlockAchievements(ctx); err != nil {
			return awarded, err
		}
	}
	return awarded, nil
}

// AwardDailyUnderBudgetIfEligible awards the under-budget bonus at most once
// per calendar day, when budgets exist and none is at 80% or more. It keeps
// the consecutive-day streak.
func (l *Ledger) AwardDailyUnderBudgetIfEligible(ctx context.Context) (bool, error) {
	now := l.now()
	today := budget.DayKey(now, l.loc)

	last, _, err := l.prefs.Marker(ctx, markerLastAwarded)
	if err != nil {
		return false, fmt.Errorf("loading last award day: %w", err)
	}
	if last == today {
		return false, nil
	}

	usages, err := l.usage.UsageForPeriod(ctx, budget.MonthStart(now, l.loc))
	if err != nil {
		return false, fmt.Errorf("computing budget usage: %w", err)
	}
	if len(usages) == 0 {
		return false, nil
	}
	for _, u := range usages {
		if u.Percent >= alerts.WarningPercent {
			l.logger.Debug("no under budget award", "category", u.Category, "percent", u.Percent)
			return false, nil
		}
	}

	inserted, err := l.points.InsertPoints(ctx, api.PointsEvent{
		SourceEventID: "under_budget_" + today,
		Delta:         UnderBudgetDayPoints,
		Reason:        api.UnderBudgetDay,
		Details:       "Under budget on " + today,
		OccurredAt:    now,
	})
	if err != nil {
		return false, fmt.Errorf("awarding under budget day: %w", err)
	}
	if err := l.prefs.SetMarker(ctx, markerLastAwarded, today); err != nil {
		return inserted, fmt.Errorf("saving last award day: %w", err)
	}
	if !inserted {
		return false, nil
	}

	streak, err := l.advanceStreak(ctx, now)
	if err != nil {
		return true, err
	}
	l.logger.Info("under budget day awarded", "day", today, "streak", streak)

	return true, l.unlockAchievements(ctx)
}

func (l *Ledger) advanceStreak(ctx context.Context, now time.Time) (int, error) {
	today := budget.DayKey(now, l.loc)
	yesterday := budget.DayKey(budget.DayStart(now, l.loc).Add(-time.Hour), l.loc)

	lastDay, _, err := l.prefs.Marker(ctx, markerStreakDay)
	if err != nil {
		return 0, fmt.Errorf("loading streak day: %w", err)
	}
	streak := 1
	if lastDay == yesterday {
		streak = l.streak(ctx) + 1
	}

	if err := l.prefs.SetMarker(ctx, markerStreakCount, strconv.Itoa(streak)); err != nil {
		return 0, fmt.Errorf("saving streak: %w", err)
	}
	if err := l.prefs.SetMarker(ctx, markerStreakDay, today); err != nil {
		return 0, fmt.Errorf("saving streak day: %w", err)
	}
	return streak, nil
}

// Streak returns the current consecutive under-budget day count.
func (l *Ledger) Streak(ctx context.Context) int {
	return l.streak(ctx)
}

func (l *Ledger) streak(ctx context.Context) int {
	v, ok, err := l.prefs.Marker(ctx, markerStreakCount)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Run processes nudge events recorded since the previous run, settles
// merchant blocks and checks the daily under-budget award.
func (l *Ledger) Run(ctx context.Context) error {
	var cursor int64
	if v, ok, err := l.prefs.Marker(ctx, markerCursor); err != nil {
		return fmt.Errorf("loading event cursor: %w", err)
	} else if ok {
		// An unreadable cursor replays everything; awards are idempotent.
		cursor, _ = strconv.ParseInt(v, 10, 64)
	}

	events, err := l.nudges.NudgesAfter(ctx, cursor)
	if err != nil {
		return fmt.Errorf("loading nudge events: %w", err)
	}
	if _, err := l.ProcessEvents(ctx, events); err != nil {
		return err
	}
	if len(events) > 0 {
		next := strconv.FormatInt(events[len(events)-1].Seq, 10)
		if err := l.prefs.SetMarker(ctx, markerCursor, next); err != nil {
			return fmt.Errorf("saving event cursor: %w", err)
		}
	}

	if _, err := l.SettleMerchantBlocks(ctx); err != nil {
		return err
	}
	if _, err := l.AwardDailyUnderBudgetIfEligible(ctx); err != nil {
		return err
	}
	return nil
}

// Balance returns the sum of all points.
func (l *Ledger) Balance(ctx context.Context) (int, error) {
	return l.points.PointsBalance(ctx)
}

// Recent returns up to limit points events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]api.PointsEvent, error) {
	return l.points.RecentPoints(ctx, limit)
}

// Achievements returns unlocked achievements, newest first.
func (l *Ledger) Achievements(ctx context.Context) ([]api.Achievement, error) {
	return l.points.Achievements(ctx)
}

func (l *Ledger) unlockAchievements(ctx context.Context) error {
	var c counts
	var err error
	if c.total, err = l.points.CountPoints(ctx); err != nil {
		return fmt.Errorf("counting points: %w", err)
	}
	if c.impulse, err = l.points.CountPointsByReason(ctx, api.ImpulseSkipped); err != nil {
		return fmt.Errorf("counting impulse skips: %w", err)
	}
	if c.underBudget, err = l.points.CountPointsByReason(ctx, api.UnderBudgetDay); err != nil {
		return fmt.Errorf("counting under budget days: %w", err)
	}
	c.streak = l.streak(ctx)

	for _, r := range achievementRules {
		if !r.unlocked(c) {
			continue
		}
		inserted, err := l.points.UnlockAchievement(ctx, api.Achievement{
			Key:         r.key,
			Title:       r.title,
			Description: r.description,
			UnlockedAt:  l.now(),
		})
		if err != nil {
			return fmt.Errorf("unlocking %s: %w", r.key, err)
		}
		if inserted {
			l.logger.Info("achievement unlocked", "key", r.key, "title", r.title)
		}
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
