package gamification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/alerts"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
	"github.com/ArionMiles/spendnudge/pkg/ledger"
	"github.com/ArionMiles/spendnudge/pkg/store/memory"
)

type fixture struct {
	store  *memory.Store
	ledger *ledger.Ledger
	calc   *budget.Calculator
	points *Ledger
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		now:   time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.New(f.store, nil, ledger.WithClock(clock))
	f.calc = budget.NewCalculator(f.store, f.ledger, nil)
	f.points = New(f.store, f.store, f.store, f.ledger, f.calc, nil, WithClock(clock))
	return f
}

func (f *fixture) setBudget(t *testing.T, c api.Category, amount int64) {
	t.Helper()
	err := f.calc.SetAllocation(context.Background(), api.BudgetAllocation{
		Category:      c,
		Amount:        decimal.NewFromInt(amount),
		PeriodStart:   budget.MonthStart(f.now, time.UTC),
		AlertsEnabled: true,
	})
	if err != nil {
		t.Fatalf("SetAllocation: %v", err)
	}
}

func (f *fixture) spend(t *testing.T, c api.Category, merchant string, amount int64, at time.Time) {
	t.Helper()
	_, err := f.ledger.AddManual(context.Background(), api.Transaction{
		Amount:     decimal.NewFromInt(amount),
		Direction:  api.Debit,
		Category:   &c,
		Merchant:   merchant,
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("AddManual: %v", err)
	}
}

func TestPointsFor(t *testing.T) {
	tests := []struct {
		name       string
		event      api.NudgeEvent
		wantOK     bool
		wantDelta  int
		wantReason api.PointsReason
	}{
		{
			name:       "overspend penalised",
			event:      api.NudgeEvent{Type: alerts.TypeOverspend, Category: "FOOD", Action: "acknowledge"},
			wantOK:     true,
			wantDelta:  BudgetExceededPoints,
			wantReason: api.BudgetExceeded,
		},
		{
			name:       "dismissed merchant alert",
			event:      api.NudgeEvent{Type: alerts.TypeMerchantRepeat, Category: "Swiggy", Action: alerts.ActionDismiss},
			wantOK:     true,
			wantDelta:  ImpulseSkippedPoints,
			wantReason: api.ImpulseSkipped,
		},
		{
			name:       "dismissed high value alert",
			event:      api.NudgeEvent{Type: alerts.TypeHighValueRepeat, Action: alerts.ActionDismiss},
			wantOK:     true,
			wantDelta:  ImpulseSkippedPoints,
			wantReason: api.ImpulseSkipped,
		},
		{
			name:       "lower case overspend",
			event:      api.NudgeEvent{Type: strings.ToLower(alerts.TypeOverspend), Category: "FOOD"},
			wantOK:     true,
			wantDelta:  BudgetExceededPoints,
			wantReason: api.BudgetExceeded,
		},
		{
			name:       "mixed case dismissal",
			event:      api.NudgeEvent{Type: strings.ToLower(alerts.TypeMerchantRepeat), Category: "Swiggy", Action: strings.ToUpper(alerts.ActionDismiss)},
			wantOK:     true,
			wantDelta:  ImpulseSkippedPoints,
			wantReason: api.ImpulseSkipped,
		},
		{
			name:  "raised pattern nudge",
			event: api.NudgeEvent{Type: alerts.NudgeMerchantRepeat, Category: "Swiggy"},
		},
		{
			name:  "merchant block settles later",
			event: api.NudgeEvent{Type: alerts.NudgeMerchantBlock, Category: "Swiggy", Action: alerts.ActionBlock},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pointsFor(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Delta != tt.wantDelta {
				t.Errorf("delta: got %d, want %d", got.Delta, tt.wantDelta)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason: got %s, want %s", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestProcessEventsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	events := []api.NudgeEvent{
		{ID: "e1", Type: alerts.TypeMerchantRepeat, Category: "Swiggy", Action: alerts.ActionDismiss, OccurredAt: f.now},
		{ID: "e2", Type: alerts.TypeOverspend, Category: "FOOD", Action: "acknowledge", OccurredAt: f.now},
		{ID: "e3", Type: alerts.NudgeMerchantRepeat, Category: "Swiggy", OccurredAt: f.now},
	}

	n, err := f.points.ProcessEvents(ctx, events)
	if err != nil {
		t.Fatalf("ProcessEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("first pass: got %d awards, want 2", n)
	}

	n, err = f.points.ProcessEvents(ctx, events)
	if err != nil {
		t.Fatalf("ProcessEvents: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass: got %d awards, want 0", n)
	}

	balance, err := f.points.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance: got %d, want 0", balance)
	}

	achievements, err := f.points.Achievements(ctx)
	if err != nil {
		t.Fatalf("Achievements: %v", err)
	}
	if len(achievements) != 1 || achievements[0].Key != "STARTER" {
		t.Errorf("achievements: got %+v, want STARTER only", achievements)
	}
}

func TestSettleMerchantBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blockedAt := f.now.Add(-30 * time.Hour)
	mustAppend(t, f.store, api.NudgeEvent{ID: "b1", Type: alerts.NudgeMerchantBlock, Category: "Swiggy", Action: alerts.ActionBlock, OccurredAt: blockedAt})
	mustAppend(t, f.store, api.NudgeEvent{ID: "b2", Type: alerts.NudgeMerchantBlock, Category: "Zomato", Action: alerts.ActionBlock, OccurredAt: blockedAt})
	mustAppend(t, f.store, api.NudgeEvent{ID: "b3", Type: alerts.NudgeMerchantBlock, Category: "Uber", Action: alerts.ActionBlock, OccurredAt: f.now.Add(-2 * time.Hour)})

	// Zomato was ordered inside its window.
	f.spend(t, api.Food, "zomato", 250, blockedAt.Add(3*time.Hour))

	n, err := f.points.SettleMerchantBlocks(ctx)
	if err != nil {
		t.Fatalf("SettleMerchantBlocks: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d settlements, want 1", n)
	}

	n, err = f.points.SettleMerchantBlocks(ctx)
	if err != nil {
		t.Fatalf("SettleMerchantBlocks: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat settlement: got %d, want 0", n)
	}

	recent, err := f.points.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].SourceEventID != "b1" || recent[0].Reason != api.ImpulseSkipped {
		t.Errorf("recent: got %+v, want one IMPULSE_SKIPPED for b1", recent)
	}

	// Uber's window ends later.
	f.now = f.now.Add(23 * time.Hour)
	n, err = f.points.SettleMerchantBlocks(ctx)
	if err != nil {
		t.Fatalf("SettleMerchantBlocks: %v", err)
	}
	if n != 1 {
		t.Errorf("after uber window: got %d, want 1", n)
	}
}

func TestAwardDailyUnderBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	awarded, err := f.points.AwardDailyUnderBudgetIfEligible(ctx)
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if awarded {
		t.Fatal("awarded with no budgets")
	}

	f.setBudget(t, api.Food, 1000)
	f.spend(t, api.Food, "Swiggy", 200, f.now.Add(-time.Hour))

	awarded, err = f.points.AwardDailyUnderBudgetIfEligible(ctx)
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if !awarded {
		t.Fatal("not awarded while under budget")
	}

	awarded, err = f.points.AwardDailyUnderBudgetIfEligible(ctx)
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if awarded {
		t.Error("awarded twice on the same day")
	}

	for i := 0; i < 2; i++ {
		f.now = f.now.Add(24 * time.Hour)
		if _, err := f.points.AwardDailyUnderBudgetIfEligible(ctx); err != nil {
			t.Fatalf("Award: %v", err)
		}
	}
	if got := f.points.Streak(ctx); got != 3 {
		t.Errorf("streak: got %d, want 3", got)
	}

	balance, err := f.points.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 30 {
		t.Errorf("balance: got %d, want 30", balance)
	}

	achievements, err := f.points.Achievements(ctx)
	if err != nil {
		t.Fatalf("Achievements: %v", err)
	}
	keys := map[string]bool{}
	for _, a := range achievements {
		keys[a.Key] = true
	}
	for _, want := range []string{"STARTER", "SAVINGS_STREAK"} {
		if !keys[want] {
			t.Errorf("missing achievement %s in %v", want, keys)
		}
	}

	// A gap resets the streak.
	f.now = f.now.Add(48 * time.Hour)
	if _, err := f.points.AwardDailyUnderBudgetIfEligible(ctx); err != nil {
		t.Fatalf("Award: %v", err)
	}
	if got := f.points.Streak(ctx); got != 1 {
		t.Errorf("streak after gap: got %d, want 1", got)
	}
}

func TestAwardDailyUnderBudgetNearLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setBudget(t, api.Food, 1000)
	f.spend(t, api.Food, "Swiggy", 800, f.now.Add(-time.Hour))

	awarded, err := f.points.AwardDailyUnderBudgetIfEligible(ctx)
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if awarded {
		t.Error("awarded at 80% usage")
	}
}

func TestRunUsesCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mustAppend(t, f.store, api.NudgeEvent{ID: "d1", Type: alerts.TypeCategorySpree, Category: "FOOD", Action: alerts.ActionDismiss, OccurredAt: f.now.Add(-time.Minute)})

	if err := f.points.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := f.points.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	balance, err := f.points.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != ImpulseSkippedPoints {
		t.Errorf("balance: got %d, want %d", balance, ImpulseSkippedPoints)
	}
}

func TestRunPicksUpBackdatedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mustAppend(t, f.store, api.NudgeEvent{ID: "d1", Type: alerts.TypeCategorySpree, Category: "FOOD", Action: alerts.ActionDismiss, OccurredAt: f.now.Add(-time.Minute)})
	if err := f.points.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Appended after the first run but stamped earlier than the event it follows.
	mustAppend(t, f.store, api.NudgeEvent{ID: "d2", Type: alerts.TypeMerchantRepeat, Category: "Swiggy", Action: alerts.ActionDismiss, OccurredAt: f.now.Add(-time.Hour)})
	if err := f.points.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	balance, err := f.points.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if want := 2 * ImpulseSkippedPoints; balance != want {
		t.Errorf("balance: got %d, want %d", balance, want)
	}
}

func mustAppend(t *testing.T, s *memory.Store, e api.NudgeEvent) {
	t.Helper()
	if err := s.AppendNudge(context.Background(), e); err != nil {
		t.Fatalf("AppendNudge: %v", err)
	}
}
