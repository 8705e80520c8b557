// Package parser extracts transactions from bank and UPI notification text.
package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// Rejection explains why a message is not a transaction.
type Rejection string

const (
	// Accepted means the message parsed as a transaction.
	Accepted Rejection = ""
	// Blocked messages contain an OTP or promotional keyword.
	Blocked Rejection = "blocked_keyword"
	// NoAmount messages carry no currency amount.
	NoAmount Rejection = "no_amount"
	// InvalidAmount messages carry an amount token that is not a number.
	InvalidAmount Rejection = "invalid_amount"
	// OutOfRange messages carry an amount outside [MinAmount, MaxAmount).
	OutOfRange Rejection = "amount_out_of_range"
	// NoDirection messages carry an amount but no debit or credit keyword.
	NoDirection Rejection = "no_direction"
)

var (
	// MinAmount is the smallest accepted amount.
	MinAmount = decimal.NewFromInt(1)
	// MaxAmount is the exclusive upper bound for accepted amounts.
	MaxAmount = decimal.NewFromInt(1_000_000)
)

var amountRe = regexp.MustCompile(`(?i)(rs\.?|inr|₹)\s*([0-9,]+(\.\d{1,2})?)`)

var blockedKeywords = []string{
	"otp", "one time password", "verification",
	"offer", "cashback", "reward", "win",
	"sale", "discount", "promo",
}

// Credit keywords are checked first and take precedence.
var (
	creditKeywords = []string{"credit", "credited", "received", "salary", "refund"}
	debitKeywords  = []string{"debit", "debited", "spent", "paid", "purchase", "withdrawn"}
)

// Parsed is a transaction extracted from a message.
type Parsed struct {
	Amount    decimal.Decimal
	Direction api.Direction
	// Merchant is empty when no merchant could be resolved.
	Merchant string
}

// IsBlocked reports whether body contains an OTP or promotional keyword.
func IsBlocked(body string) bool {
	return containsAny(strings.ToLower(body), blockedKeywords)
}

// Parse extracts a transaction from a message. ok is false for anything
// that is not a transaction.
func Parse(sender, body string) (p Parsed, ok bool) {
	p, r := Analyze(sender, body)
	return p, r == Accepted
}

// Analyze is Parse with the reason a message was rejected.
func Analyze(sender, body string) (Parsed, Rejection) {
	if IsBlocked(body) {
		return Parsed{}, Blocked
	}

	lower := strings.ToLower(body)

	m := amountRe.FindStringSubmatch(lower)
	if m == nil {
		return Parsed{}, NoAmount
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", ""))
	if err != nil {
		return Parsed{}, InvalidAmount
	}
	if amount.LessThan(MinAmount) || amount.GreaterThanOrEqual(MaxAmount) {
		return Parsed{}, OutOfRange
	}

	var dir api.Direction
	switch {
	case containsAny(lower, creditKeywords):
		dir = api.Credit
	case containsAny(lower, debitKeywords):
		dir = api.Debit
	default:
		return Parsed{}, NoDirection
	}

	return Parsed{
		Amount:    amount,
		Direction: dir,
		Merchant:  ResolveMerchant(sender, body),
	}, Accepted
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
