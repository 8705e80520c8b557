package alerts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
)

// Rule types recorded on alerts and on the nudge events they produce.
const (
	TypeOverspend       = "BUDGET_100"
	TypeMerchantRepeat  = "MERCHANT_3X"
	TypeCategorySpree   = "CATEGORY_5X"
	TypeHighValueRepeat = "HIGHVALUE_3X"
)

// Thresholds.
const (
	OverspendPercent    = 100
	WarningPercent      = 80
	MerchantRepeatCount = 3
	CategorySpreeCount  = 5
	HighValueCount      = 3
)

// HighValueAmount is the smallest amount counted by the high-value rule.
var HighValueAmount = decimal.NewFromInt(500)

// Alert is a blocking, actionable alert. At most one is active at a time.
type Alert struct {
	Type string
	// Subject is the category for budget and spree alerts and the merchant
	// for merchant alerts.
	Subject string
	Message string
	Percent int
	Count   int
	Total   decimal.Decimal
	// SuggestedAction is a hint for the presentation layer.
	SuggestedAction string
}

// Key identifies the alert within a day for suppression.
func (a Alert) Key() string {
	return a.Type + ":" + strings.ToLower(a.Subject)
}

// Pattern reports whether the alert came from a spending-pattern rule.
func (a Alert) Pattern() bool {
	return a.Type != TypeOverspend
}

// Warning is a non-blocking near-limit notice.
type Warning struct {
	Category api.Category
	Percent  int
	Spent    decimal.Decimal
	Budget   decimal.Decimal
}

// Input is everything one evaluation cycle looks at.
type Input struct {
	Usages []budget.Usage
	// Today holds today's confirmed debits, newest first, with blocked
	// merchants already removed.
	Today []api.Transaction
	Day   DayState
}

// Rule evaluates one alert condition.
type Rule struct {
	Name string
	Eval func(Input) (Alert, bool)
}

// DefaultRules returns the alert rules in precedence order. The high-value
// rule is a stricter form of the merchant-repeat rule and is ranked ahead of
// it so that it can fire at all.
func DefaultRules() []Rule {
	// Order differs from the documented rule listing (merchant before high value); three 500+ orders at one merchant must alert as high value.
	return []Rule{
		{Name: "overspend", Eval: Overspend},
		{Name: "high_value_repeat", Eval: HighValueRepeat},
		{Name: "merchant_repeat", Eval: MerchantRepeat},
		{Name: "category_spree", Eval: CategorySpree},
	}
}

// FirstMatch returns the alert of the first rule that fires.
func FirstMatch(rules []Rule, in Input) (Alert, bool) {
	for _, r := range rules {
		if a, ok := r.Eval(in); ok {
			return a, true
		}
	}
	return Alert{}, false
}

// Overspend fires for the first alerts-enabled category, in allocation
// order, at or over its budget.
func Overspend(in Input) (Alert, bool) {
	for _, u := range in.Usages {
		if !u.AlertsEnabled || u.Percent < OverspendPercent {
			continue
		}
		a := Alert{
			Type:    TypeOverspend,
			Subject: string(u.Category),
			Percent: u.Percent,
			Total:   u.Spent,
			Message: fmt.Sprintf("%s (₹%s/₹%s) - %d%% - EXCEEDED",
				u.Category, u.Spent.StringFixed(0), u.Budget.StringFixed(0), u.Percent),
		}
		if in.Day.AlertDismissed(a) {
			continue
		}
		return a, true
	}
	return Alert{}, false
}

// MerchantRepeat fires when one merchant appears at least three times today.
func MerchantRepeat(in Input) (Alert, bool) {
	for _, g := range groupBy(in.Today, merchantOf) {
		if len(g.txs) < MerchantRepeatCount {
			continue
		}
		a := Alert{
			Type:            TypeMerchantRepeat,
			Subject:         g.label,
			Count:           len(g.txs),
			Total:           total(g.txs),
			Message:         fmt.Sprintf("%s (%dx today) - Pattern detected!", g.label, len(g.txs)),
			SuggestedAction: "reduce_" + strings.ToLower(g.label),
		}
		if in.Day.AlertDismissed(a) {
			continue
		}
		return a, true
	}
	return Alert{}, false
}

// CategorySpree fires when one category appears at least five times today.
func CategorySpree(in Input) (Alert, bool) {
	for _, g := range groupBy(in.Today, categoryOf) {
		if len(g.txs) < CategorySpreeCount {
			continue
		}
		a := Alert{
			Type:    TypeCategorySpree,
			Subject: g.label,
			Count:   len(g.txs),
			Total:   total(g.txs),
			Message: fmt.Sprintf("%s (%dx today) - Spending spree!", g.label, len(g.txs)),
		}
		if in.Day.AlertDismissed(a) {
			continue
		}
		return a, true
	}
	return Alert{}, false
}

// HighValueRepeat fires when one merchant has at least three debits of 500
// or more today. It reports their total.
func HighValueRepeat(in Input) (Alert, bool) {
	var big []api.Transaction
	for _, tx := range in.Today {
		if tx.Amount.GreaterThanOrEqual(HighValueAmount) {
			big = append(big, tx)
		}
	}
	for _, g := range groupBy(big, merchantOf) {
		if len(g.txs) < HighValueCount {
			continue
		}
		sum := total(g.txs)
		a := Alert{
			Type:    TypeHighValueRepeat,
			Subject: g.label,
			Count:   len(g.txs),
			Total:   sum,
			Message: fmt.Sprintf("%s (₹%s today) - Big spender alert!", g.label, sum.StringFixed(0)),
		}
		if in.Day.AlertDismissed(a) {
			continue
		}
		return a, true
	}
	return Alert{}, false
}

// Warnings lists every alerts-enabled category between 80% and 100% that
// was not dismissed today.
func Warnings(in Input) []Warning {
	var out []Warning
	for _, u := range in.Usages {
		if !u.AlertsEnabled || u.Percent < WarningPercent || u.Percent >= OverspendPercent {
			continue
		}
		if in.Day.WarningDismissed(u.Category) {
			continue
		}
		out = append(out, Warning{Category: u.Category, Percent: u.Percent, Spent: u.Spent, Budget: u.Budget})
	}
	return out
}

type group struct {
	label string
	txs   []api.Transaction
}

func merchantOf(tx api.Transaction) string { return tx.Merchant }

func categoryOf(tx api.Transaction) string { return tx.CategoryName() }

// groupBy groups transactions by a case-insensitive key, keeping groups in
// order of first appearance. Transactions with an empty key are skipped.
func groupBy(txs []api.Transaction, key func(api.Transaction) string) []*group {
	var groups []*group
	index := make(map[string]*group)
	for _, tx := range txs {
		label := key(tx)
		if label == "" {
			continue
		}
		k := strings.ToLower(label)
		g, ok := index[k]
		if !ok {
			g = &group{label: label}
			index[k] = g
			groups = append(groups, g)
		}
		g.txs = append(g.txs, tx)
	}
	return groups
}

func total(txs []api.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	return sum
}
