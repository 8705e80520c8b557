package sheets

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

func TestTransactionRowRoundTrip(t *testing.T) {
	food := api.Food
	tx := api.Transaction{
		ID:          42,
		Amount:      decimal.RequireFromString("450.5"),
		Direction:   api.Debit,
		Category:    &food,
		Merchant:    "Swiggy",
		OccurredAt:  time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
		Source:      api.Imported,
		Status:      api.Confirmed,
		Fingerprint: "abc123",
	}

	row := transactionRow(tx)
	if got := row[2]; got != "450.50" {
		t.Errorf("amount cell: got %v, want 450.50", got)
	}

	got, err := parseTransactionRow(row)
	if err != nil {
		t.Fatalf("parseTransactionRow: %v", err)
	}
	if !got.Amount.Equal(tx.Amount) || got.Merchant != "Swiggy" || got.CategoryName() != "FOOD" {
		t.Errorf("got %+v", got)
	}
	if !got.OccurredAt.Equal(tx.OccurredAt) {
		t.Errorf("time: got %v, want %v", got.OccurredAt, tx.OccurredAt)
	}
	if got.Fingerprint != "abc123" || got.Status != api.Confirmed {
		t.Errorf("fingerprint/status: got %q/%s", got.Fingerprint, got.Status)
	}
}

func TestParseTransactionRowErrors(t *testing.T) {
	tests := []struct {
		name string
		row  []any
	}{
		{"bad time", []any{"yesterday", "X", "10", "DEBIT"}},
		{"bad amount", []any{"2024-06-15T12:30:00Z", "X", "ten", "DEBIT"}},
		{"bad direction", []any{"2024-06-15T12:30:00Z", "X", "10", "SIDEWAYS"}},
		{"bad category", []any{"2024-06-15T12:30:00Z", "X", "10", "DEBIT", "PETS"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseTransactionRow(tt.row); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMergeBudgetRows(t *testing.T) {
	existing := [][]any{
		{"2024-05", "FOOD", "4000.00", "true"},
		{"2024-06", "FOOD", "5000.00", "true"},
		{"2024-06", "BILLS", "2000.00", "false"},
	}
	allocs := []api.BudgetAllocation{
		{Category: api.Food, Amount: decimal.NewFromInt(6000), AlertsEnabled: true},
	}

	rows := mergeBudgetRows(existing, "2024-06", allocs)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if fmt.Sprint(rows[0][0]) != "2024-05" {
		t.Errorf("first row period: got %v, want 2024-05", rows[0][0])
	}
	if fmt.Sprint(rows[1][2]) != "6000.00" {
		t.Errorf("new amount: got %v, want 6000.00", rows[1][2])
	}

	a, err := parseBudgetRow(rows[1])
	if err != nil {
		t.Fatalf("parseBudgetRow: %v", err)
	}
	if a.Category != api.Food || !a.Amount.Equal(decimal.NewFromInt(6000)) || !a.AlertsEnabled {
		t.Errorf("got %+v", a)
	}
	if want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC); !a.PeriodStart.Equal(want) {
		t.Errorf("period: got %v, want %v", a.PeriodStart, want)
	}
}

func TestParseBudgetRowDefaultsAlerts(t *testing.T) {
	a, err := parseBudgetRow([]any{"2024-06", "food", "100"})
	if err != nil {
		t.Fatalf("parseBudgetRow: %v", err)
	}
	if !a.AlertsEnabled {
		t.Error("alerts should default to enabled")
	}
	if _, err := parseBudgetRow([]any{"2024-06"}); err == nil {
		t.Error("expected error for short row")
	}
}

func TestRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"wrapped 429", fmt.Errorf("append: %w", &googleapi.Error{Code: http.StatusTooManyRequests}), true},
		{"403", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rateLimited(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
