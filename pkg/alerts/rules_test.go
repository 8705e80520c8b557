package alerts

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
)

func usage(c api.Category, spent, budgetAmt int64, enabled bool) budget.Usage {
	s, b := decimal.NewFromInt(spent), decimal.NewFromInt(budgetAmt)
	return budget.Usage{Category: c, Spent: s, Budget: b, Percent: budget.Percentage(s, b), AlertsEnabled: enabled}
}

func debit(merchant string, c api.Category, amount int64) api.Transaction {
	return api.Transaction{Amount: decimal.NewFromInt(amount), Direction: api.Debit, Status: api.Confirmed, Merchant: merchant, Category: &c}
}

func emptyDay() DayState {
	return DayState{
		DismissedWarnings: map[api.Category]struct{}{},
		DismissedAlerts:   map[string]struct{}{},
		BlockedMerchants:  map[string]struct{}{},
	}
}

func TestFirstMatch(t *testing.T) {
	swiggyBig := []api.Transaction{
		debit("Swiggy", api.Food, 600),
		debit("Swiggy", api.Food, 500),
		debit("Swiggy", api.Food, 750),
	}
	swiggySmall := []api.Transaction{
		debit("Swiggy", api.Food, 120),
		debit("swiggy", api.Food, 80),
		debit("Swiggy", api.Food, 600),
	}
	spree := []api.Transaction{
		debit("A", api.Shopping, 10),
		debit("B", api.Shopping, 10),
		debit("C", api.Shopping, 10),
		debit("D", api.Shopping, 10),
		debit("E", api.Shopping, 10),
	}

	tests := []struct {
		name        string
		in          Input
		wantOK      bool
		wantType    string
		wantSubject string
		wantMessage string
	}{
		{
			name:        "overspend",
			in:          Input{Usages: []budget.Usage{usage(api.Food, 5500, 5000, true)}},
			wantOK:      true,
			wantType:    TypeOverspend,
			wantSubject: "FOOD",
			wantMessage: "FOOD (₹5500/₹5000) - 110% - EXCEEDED",
		},
		{
			name:        "overspend beats patterns",
			in:          Input{Usages: []budget.Usage{usage(api.Bills, 100, 5000, true), usage(api.Food, 5000, 5000, true)}, Today: swiggyBig},
			wantOK:      true,
			wantType:    TypeOverspend,
			wantSubject: "FOOD",
		},
		{
			name:   "alerts disabled",
			in:     Input{Usages: []budget.Usage{usage(api.Food, 9000, 5000, false)}},
			wantOK: false,
		},
		{
			name:        "high value repeat",
			in:          Input{Today: swiggyBig},
			wantOK:      true,
			wantType:    TypeHighValueRepeat,
			wantSubject: "Swiggy",
			wantMessage: "Swiggy (₹1850 today) - Big spender alert!",
		},
		{
			name:        "merchant repeat groups case-insensitively",
			in:          Input{Today: swiggySmall},
			wantOK:      true,
			wantType:    TypeMerchantRepeat,
			wantSubject: "Swiggy",
			wantMessage: "Swiggy (3x today) - Pattern detected!",
		},
		{
			name:        "category spree",
			in:          Input{Today: spree},
			wantOK:      true,
			wantType:    TypeCategorySpree,
			wantSubject: "SHOPPING",
			wantMessage: "SHOPPING (5x today) - Spending spree!",
		},
		{
			name:   "nothing",
			in:     Input{Usages: []budget.Usage{usage(api.Food, 4500, 5000, true)}, Today: swiggySmall[:2]},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.in.Day.DismissedAlerts == nil {
				tc.in.Day = emptyDay()
			}
			a, ok := FirstMatch(DefaultRules(), tc.in)
			if ok != tc.wantOK {
				t.Fatalf("fired: got %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if a.Type != tc.wantType {
				t.Errorf("type: got %s, want %s", a.Type, tc.wantType)
			}
			if a.Subject != tc.wantSubject {
				t.Errorf("subject: got %s, want %s", a.Subject, tc.wantSubject)
			}
			if tc.wantMessage != "" && a.Message != tc.wantMessage {
				t.Errorf("message: got %q, want %q", a.Message, tc.wantMessage)
			}
		})
	}
}

func TestDefaultRulesOrder(t *testing.T) {
	want := []string{"overspend", "high_value_repeat", "merchant_repeat", "category_spree"}
	rules := DefaultRules()
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Errorf("rule %d: got %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestDismissedAlertFallsThrough(t *testing.T) {
	day := emptyDay()
	day.DismissedAlerts[Alert{Type: TypeOverspend, Subject: "FOOD"}.Key()] = struct{}{}

	in := Input{
		Usages: []budget.Usage{usage(api.Food, 6000, 5000, true), usage(api.Shopping, 6000, 5000, true)},
		Day:    day,
	}
	a, ok := Overspend(in)
	if !ok || a.Subject != "SHOPPING" {
		t.Errorf("got %v/%v, want SHOPPING alert", a.Subject, ok)
	}
}

func TestWarnings(t *testing.T) {
	day := emptyDay()
	day.DismissedWarnings[api.Health] = struct{}{}

	in := Input{
		Usages: []budget.Usage{
			usage(api.Food, 4500, 5000, true),
			usage(api.Groceries, 4000, 5000, true),
			usage(api.Health, 4500, 5000, true),
			usage(api.Shopping, 5000, 5000, true),
			usage(api.Transport, 4500, 5000, false),
			usage(api.Bills, 3999, 5000, true),
		},
		Day: day,
	}

	got := Warnings(in)
	if len(got) != 2 {
		t.Fatalf("warnings: got %d (%v), want 2", len(got), got)
	}
	if got[0].Category != api.Food || got[0].Percent != 90 {
		t.Errorf("first warning: got %s %d%%, want FOOD 90%%", got[0].Category, got[0].Percent)
	}
	if got[1].Category != api.Groceries || got[1].Percent != 80 {
		t.Errorf("second warning: got %s %d%%, want GROCERIES 80%%", got[1].Category, got[1].Percent)
	}
}
