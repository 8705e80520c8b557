package backup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

func TestSnapshotAddTransactions(t *testing.T) {
	s, err := DecodeSnapshot(nil)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	s.AddTransactions([]api.Transaction{
		{ID: 1, Merchant: "Swiggy", Fingerprint: "f1"},
		{ID: 2, Merchant: "Uber"},
	})
	s.AddTransactions([]api.Transaction{
		{ID: 1, Merchant: "Swiggy Instamart", Fingerprint: "f1"},
		{Merchant: "Zomato", Fingerprint: "f3"},
		{Merchant: "Zomato again", Fingerprint: "f3"},
	})

	if len(s.Transactions) != 3 {
		t.Fatalf("got %d transactions, want 3", len(s.Transactions))
	}
	if s.Transactions[0].Merchant != "Swiggy Instamart" {
		t.Errorf("replaced by id: got %q", s.Transactions[0].Merchant)
	}
	if s.Transactions[2].Merchant != "Zomato again" {
		t.Errorf("replaced by fingerprint: got %q", s.Transactions[2].Merchant)
	}
}

func TestSnapshotAllocationsRoundTrip(t *testing.T) {
	s, _ := DecodeSnapshot(nil)
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	s.SetAllocations(june, []api.BudgetAllocation{
		{Category: api.Shopping, Amount: decimal.NewFromInt(300), PeriodStart: june},
		{Category: api.Food, Amount: decimal.NewFromInt(500), PeriodStart: june},
	})
	s.SetAllocations(may, []api.BudgetAllocation{{Category: api.Bills, Amount: decimal.NewFromInt(900), PeriodStart: may}})

	data, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	all := decoded.AllAllocations()
	want := []api.Category{api.Bills, api.Food, api.Shopping}
	if len(all) != len(want) {
		t.Fatalf("got %d allocations, want %d", len(all), len(want))
	}
	for i, c := range want {
		if all[i].Category != c {
			t.Errorf("allocation %d: got %s, want %s", i, all[i].Category, c)
		}
	}
	if !all[1].Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("amount: got %s, want 500", all[1].Amount)
	}

	decoded.SetAllocations(may, nil)
	if got := len(decoded.AllAllocations()); got != 2 {
		t.Errorf("after clearing may: got %d, want 2", got)
	}
}

func TestDecodeSnapshotInvalid(t *testing.T) {
	if _, err := DecodeSnapshot([]byte("{not json")); err == nil {
		t.Error("expected error")
	}
}
