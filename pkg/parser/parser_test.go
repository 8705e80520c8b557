package parser

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

func TestIsTrusted(t *testing.T) {
	for _, code := range trustedSenders {
		if !IsTrusted(code) {
			t.Errorf("IsTrusted(%q): got false, want true", code)
		}
	}

	tests := []struct {
		sender string
		want   bool
	}{
		{"VM-HDFCBK", true},
		{"hdfcbk", true},
		{"AD-PHONEPE-S", true},
		{"  jd-sbiinb ", true},
		{"", false},
		{"   ", false},
		{"RANDOM", false},
		{"HDFC", false},
	}
	for _, tc := range tests {
		if got := IsTrusted(tc.sender); got != tc.want {
			t.Errorf("IsTrusted(%q): got %v, want %v", tc.sender, got, tc.want)
		}
	}
}

func TestResolveMerchant(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		body   string
		want   string
	}{
		{"sender registry", "zomato ", "anything", "Zomato"},
		{"sender registry keeps display name", "JIOTELE", "", "Jio (Reliance)"},
		{"institution suffix", "", "Rs.6,028.57 debited from a/c XX1234.- Canara Bank", "Canara Bank"},
		{"at segment", "UNKNOWN", "Rs.500 debited for purchase at Zomato on 01-01-2024", "Zomato"},
		{"to segment", "", "Rs 250 paid to Ramesh Kumar via UPI", "Ramesh Kumar"},
		{"own account skipped", "", "INR 1,000 credited to your account from Acme Payroll", "Acme Payroll"},
		{"upi app", "", "Rs 99 sent via PhonePe", "Phonepe"},
		{"transfer keyword", "", "Your salary of INR 50,000 is processed", "Salary"},
		{"atm", "", "Rs 2000 withdrawal done ATM CASH", "ATM Withdrawal"},
		{"title case collapses spaces", "", "Rs 300 spent at SWIGGY   INSTAMART. Avl bal", "Swiggy Instamart"},
		{"vpa keeps lower case after @", "", "Rs.500 paid to zomato@ybl", "Zomato@ybl"},
		{"leading digit", "", "Rs 120 spent at 7eleven on 02-02", "7eleven"},
		{"unknown", "", "Rs 100 debited", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveMerchant(tc.sender, tc.body); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"zomato@ybl", "Zomato@ybl"},
		{"7eleven", "7eleven"},
		{"abc-xyz bank", "Abc-xyz Bank"},
		{"  SWIGGY   instamart ", "Swiggy Instamart"},
		{"ústí store", "Ústí Store"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := titleCase(tc.in); got != tc.want {
			t.Errorf("titleCase(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInstitutionSegment(t *testing.T) {
	got := institutionSegment("rs 100 debited.- state bank of india.call 1800")
	if got != "state bank of india" {
		t.Errorf("got %q, want %q", got, "state bank of india")
	}
	if got := institutionSegment("no separators here"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestMerchantSegmentBounded(t *testing.T) {
	seg := merchantSegment("abcdefghijklmnopqrstuvwxyz abcdefghijklmnopqrstuvwxyz")
	if len(seg) > maxMerchantLen {
		t.Errorf("segment length: got %d, want <= %d", len(seg), maxMerchantLen)
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name       string
		sender     string
		body       string
		want       Rejection
		wantAmount string
		wantDir    api.Direction
	}{
		{"debit purchase", "ZOMATO", "Rs.500 debited for purchase at Zomato on 01-01-2024", Accepted, "500", api.Debit},
		{"salary credit", "", "You received INR 20,000 salary credited", Accepted, "20000", api.Credit},
		{"rupee sign with lakh grouping", "", "₹1,23,456.78 debited from your card", Accepted, "123456.78", api.Debit},
		{"minimum amount", "", "INR 1.00 spent on groceries", Accepted, "1", api.Debit},
		{"just under maximum", "", "Rs.999999.99 debited", Accepted, "999999.99", api.Debit},
		{"credit wins over debit", "", "Refund of Rs 250 credited; earlier debited", Accepted, "250", api.Credit},
		{"cashback promo", "", "Congratulations! You won a cashback reward", Blocked, "", ""},
		{"otp", "HDFCBK", "Your OTP for Rs.500 payment is 123456", Blocked, "", ""},
		{"below minimum", "", "Rs.0.50 debited", OutOfRange, "", ""},
		{"maximum is exclusive", "", "Rs.1000000 debited", OutOfRange, "", ""},
		{"no amount", "", "Your a/c was debited", NoAmount, "", ""},
		{"separator only", "", "Rs , debited", InvalidAmount, "", ""},
		{"no direction", "", "Balance is Rs.500", NoDirection, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, r := Analyze(tc.sender, tc.body)
			if r != tc.want {
				t.Fatalf("rejection: got %q, want %q", r, tc.want)
			}
			if r != Accepted {
				return
			}
			if !p.Amount.Equal(decimal.RequireFromString(tc.wantAmount)) {
				t.Errorf("amount: got %v, want %v", p.Amount, tc.wantAmount)
			}
			if p.Direction != tc.wantDir {
				t.Errorf("direction: got %v, want %v", p.Direction, tc.wantDir)
			}
		})
	}
}

func TestParse(t *testing.T) {
	p, ok := Parse("ZOMATO", "Rs.500 debited for purchase at Zomato on 01-01-2024")
	if !ok {
		t.Fatal("expected a transaction")
	}
	if p.Merchant != "Zomato" {
		t.Errorf("merchant: got %q, want %q", p.Merchant, "Zomato")
	}

	if _, ok := Parse("", "Congratulations! You won a cashback reward"); ok {
		t.Error("blocklisted message parsed as a transaction")
	}
}
