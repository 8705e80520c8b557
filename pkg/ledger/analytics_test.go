package ledger

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/store/memory"
)

// June 2024: the 3rd is a Monday, the 8th and 9th are a weekend.
func spent(c api.Category, amount int64, day int) api.Transaction {
	return api.Transaction{
		Amount:     decimal.NewFromInt(amount),
		Direction:  api.Debit,
		Category:   &c,
		OccurredAt: time.Date(2024, 6, day, 13, 0, 0, 0, time.UTC),
		Status:     api.Confirmed,
	}
}

func TestBuildAnalyticsInsights(t *testing.T) {
	tests := []struct {
		name string
		txs  []api.Transaction
		want []string
	}{
		{
			name: "weekend exactly twice weekday",
			txs:  []api.Transaction{spent(api.Bills, 500, 3), spent(api.Food, 200, 8), spent(api.Shopping, 200, 9)},
			want: []string{"You spend ~2.0x more on weekends.", "BILLS is ~56% of your spending."},
		},
		{
			name: "weekend just under twice weekday",
			txs:  []api.Transaction{spent(api.Bills, 500, 3), spent(api.Food, 199, 8), spent(api.Shopping, 199, 9)},
			want: []string{"BILLS is ~56% of your spending."},
		},
		{
			name: "weekend only",
			txs:  []api.Transaction{spent(api.Food, 100, 8)},
			want: []string{"FOOD is ~100% of your spending."},
		},
		{
			name: "top category at forty percent",
			txs:  []api.Transaction{spent(api.Food, 400, 3), spent(api.Bills, 300, 4), spent(api.Shopping, 300, 5)},
			want: []string{"FOOD is ~40% of your spending."},
		},
		{
			name: "top category under forty percent",
			txs:  []api.Transaction{spent(api.Food, 399, 3), spent(api.Bills, 301, 4), spent(api.Shopping, 300, 5)},
		},
		{
			name: "no spending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildAnalytics(tt.txs, time.UTC).Insights
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildAnalyticsBreakdown(t *testing.T) {
	pending := spent(api.Food, 1000, 3)
	pending.Status = api.Pending
	credit := spent(api.Food, 1000, 3)
	credit.Direction = api.Credit
	uncategorised := spent(api.Food, 15, 4)
	uncategorised.Category = nil

	txs := []api.Transaction{
		spent(api.Food, 100, 3),
		spent(api.Food, 50, 3),
		spent(api.Bills, 120, 4),
		spent(api.Shopping, 90, 5),
		spent(api.Transport, 80, 5),
		spent(api.Health, 70, 6),
		spent(api.Groceries, 60, 7),
		uncategorised,
		pending,
		credit,
	}
	a := BuildAnalytics(txs, time.UTC)

	if want := decimal.NewFromInt(585); !a.Total.Equal(want) {
		t.Errorf("total: got %s, want %s", a.Total, want)
	}

	wantOrder := []api.Category{api.Food, api.Bills, api.Shopping, api.Transport, api.Health, api.Groceries, api.Other}
	if len(a.Breakdown) != len(wantOrder) {
		t.Fatalf("breakdown: got %d categories, want %d", len(a.Breakdown), len(wantOrder))
	}
	for i, c := range wantOrder {
		if a.Breakdown[i].Category != c {
			t.Errorf("breakdown[%d]: got %s, want %s", i, a.Breakdown[i].Category, c)
		}
	}
	if !a.Breakdown[0].Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("food: got %s, want 150", a.Breakdown[0].Amount)
	}
	if len(a.Top) != TopCategoryCount || a.Top[4].Category != api.Health {
		t.Errorf("top: got %v, want five categories ending with HEALTH", a.Top)
	}

	if len(a.Trend) != 5 {
		t.Fatalf("trend: got %d days, want 5", len(a.Trend))
	}
	if a.Trend[0].Day.Day() != 3 || !a.Trend[0].Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("trend[0]: got %v %s, want day 3 amount 150", a.Trend[0].Day, a.Trend[0].Amount)
	}
	if a.Trend[4].Day.Day() != 7 {
		t.Errorf("trend[4]: got day %d, want 7", a.Trend[4].Day.Day())
	}
}

func TestBuildAnalyticsDaysInLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// Friday 20:00 UTC is Saturday 01:30 in IST.
	tx := spent(api.Food, 300, 7)
	tx.OccurredAt = time.Date(2024, 6, 7, 20, 0, 0, 0, time.UTC)
	weekday := spent(api.Bills, 100, 4)

	a := BuildAnalytics([]api.Transaction{tx, weekday}, ist)
	if a.Trend[1].Day.Day() != 8 {
		t.Errorf("trend day: got %d, want 8", a.Trend[1].Day.Day())
	}
	if len(a.Insights) == 0 || a.Insights[0] != "You spend ~7.5x more on weekends." {
		t.Errorf("got insights %q", a.Insights)
	}
}

func TestLedgerAnalyticsRanges(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	l := New(memory.New(), slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(func() time.Time { return now }))

	for _, tx := range []api.Transaction{
		spent(api.Food, 100, 5),
		spent(api.Food, 200, 6),
		spent(api.Bills, 300, 12),
	} {
		if _, err := l.AddManual(ctx, tx); err != nil {
			t.Fatalf("AddManual: %v", err)
		}
	}

	tests := []struct {
		r         Range
		wantStart time.Time
		wantTotal int64
	}{
		{RangeWeek, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), 500},
		{RangeMonth, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 600},
	}
	for _, tt := range tests {
		t.Run(string(tt.r), func(t *testing.T) {
			a, err := l.Analytics(ctx, tt.r, time.UTC)
			if err != nil {
				t.Fatalf("Analytics: %v", err)
			}
			if !a.Start.Equal(tt.wantStart) {
				t.Errorf("start: got %v, want %v", a.Start, tt.wantStart)
			}
			if !a.Total.Equal(decimal.NewFromInt(tt.wantTotal)) {
				t.Errorf("total: got %s, want %d", a.Total, tt.wantTotal)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    Range
		wantErr bool
	}{
		{"week", RangeWeek, false},
		{" Month ", RangeMonth, false},
		{"year", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRange(%q): got (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}
