package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// Range selects the window Analytics covers.
type Range string

const (
	// RangeWeek is the last seven days including today.
	RangeWeek Range = "week"
	// RangeMonth is the current calendar month up to now.
	RangeMonth Range = "month"
)

// ParseRange parses "week" or "month", case-insensitively.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case RangeWeek, RangeMonth:
		return r, nil
	}
	return "", fmt.Errorf("unknown range %q (want week or month)", s)
}

// Label is the human readable name of the range.
func (r Range) Label() string {
	if r == RangeWeek {
		return "Last 7 days"
	}
	return "This month"
}

// Insight thresholds.
var (
	weekendFactor   = decimal.NewFromInt(2)
	topSharePercent = decimal.NewFromInt(40)
)

// TopCategoryCount is how many categories Analytics.Top holds.
const TopCategoryCount = 5

// CategorySpend is the confirmed debit total of one category.
type CategorySpend struct {
	Category api.Category
	Amount   decimal.Decimal
}

// TrendPoint is the confirmed debit total of one day.
type TrendPoint struct {
	Day    time.Time
	Amount decimal.Decimal
}

// Analytics breaks down confirmed spending over a range.
type Analytics struct {
	Range Range
	Start time.Time
	End   time.Time
	Total decimal.Decimal
	// Breakdown is sorted by amount, largest first.
	Breakdown []CategorySpend
	// Trend has one point per day with spending, oldest first.
	Trend    []TrendPoint
	Top      []CategorySpend
	Insights []string
}

// RangeBounds returns the start of r as seen at now in loc. The range ends
// at now.
func RangeBounds(r Range, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	if r == RangeWeek {
		return time.Date(local.Year(), local.Month(), local.Day()-6, 0, 0, 0, 0, loc)
	}
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// Analytics summarises confirmed debits of range r, with days counted in loc.
func (l *Ledger) Analytics(ctx context.Context, r Range, loc *time.Location) (Analytics, error) {
	if loc == nil {
		loc = time.UTC
	}
	end := l.now()
	start := RangeBounds(r, end, loc)
	txs, err := l.ExpensesBetween(ctx, start, end)
	if err != nil {
		return Analytics{}, err
	}
	a := BuildAnalytics(txs, loc)
	a.Range, a.Start, a.End = r, start, end
	return a, nil
}

// BuildAnalytics aggregates the confirmed debits in txs. Other transactions
// are ignored. Uncategorised debits count as OTHER.
func BuildAnalytics(txs []api.Transaction, loc *time.Location) Analytics {
	byCategory := map[api.Category]decimal.Decimal{}
	byDay := map[time.Time]decimal.Decimal{}
	var debits []api.Transaction
	total := decimal.Zero

	for _, tx := range txs {
		if tx.Direction != api.Debit || tx.Status != api.Confirmed {
			continue
		}
		debits = append(debits, tx)
		c := api.Other
		if tx.Category != nil {
			c = *tx.Category
		}
		byCategory[c] = byCategory[c].Add(tx.Amount)
		local := tx.OccurredAt.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		byDay[day] = byDay[day].Add(tx.Amount)
		total = total.Add(tx.Amount)
	}

	a := Analytics{Total: total}
	for c, amt := range byCategory {
		a.Breakdown = append(a.Breakdown, CategorySpend{Category: c, Amount: amt})
	}
	slices.SortFunc(a.Breakdown, func(x, y CategorySpend) int {
		if c := y.Amount.Cmp(x.Amount); c != 0 {
			return c
		}
		return strings.Compare(string(x.Category), string(y.Category))
	})
	a.Top = a.Breakdown[:min(TopCategoryCount, len(a.Breakdown))]

	for day, amt := range byDay {
		a.Trend = append(a.Trend, TrendPoint{Day: day, Amount: amt})
	}
	slices.SortFunc(a.Trend, func(x, y TrendPoint) int { return x.Day.Compare(y.Day) })

	a.Insights = insights(debits, a.Breakdown, total, loc)
	return a
}

// insights compares the average weekend day to the average weekday and
// reports a dominant category.
func insights(debits []api.Transaction, breakdown []CategorySpend, total decimal.Decimal, loc *time.Location) []string {
	if len(debits) == 0 {
		return nil
	}

	weekend := decimal.Zero
	for _, tx := range debits {
		switch tx.OccurredAt.In(loc).Weekday() {
		case time.Saturday, time.Sunday:
			weekend = weekend.Add(tx.Amount)
		}
	}
	weekday := total.Sub(weekend)

	var out []string
	avgWeekend := weekend.Div(decimal.NewFromInt(2))
	avgWeekday := weekday.Div(decimal.NewFromInt(5))
	if avgWeekday.IsPositive() && avgWeekend.GreaterThanOrEqual(avgWeekday.Mul(weekendFactor)) {
		out = append(out, fmt.Sprintf("You spend ~%sx more on weekends.", avgWeekend.Div(avgWeekday).StringFixed(1)))
	}

	if !total.IsPositive() || len(breakdown) == 0 {
		return out
	}
	top := breakdown[0]
	share := top.Amount.Mul(decimal.NewFromInt(100)).Div(total)
	if share.GreaterThanOrEqual(topSharePercent) {
		out = append(out, fmt.Sprintf("%s is ~%s%% of your spending.", top.Category, share.Round(0).String()))
	}
	return out
}
