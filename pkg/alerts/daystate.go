package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/budget"
)

// BlockWindow is how long a blocked merchant stays out of pattern rules.
const BlockWindow = 24 * time.Hour

func warningsKey(day string) string      { return "dismissed_80_" + day }
func alertsKey(day string) string        { return "dismissed_alerts_" + day }
func blockedKey(day string) string       { return "blocked_" + day }
func blockedUntilKey(name string) string { return "blocked_until_" + name }

// DayState is the per-calendar-day suppression state. It is rebuilt from
// persisted sets at the start of every evaluation, so a new day starts
// empty.
type DayState struct {
	Day               string
	DismissedWarnings map[api.Category]struct{}
	DismissedAlerts   map[string]struct{}
	BlockedMerchants  map[string]struct{}
}

// WarningDismissed reports whether the category's warning was dismissed today.
func (d DayState) WarningDismissed(c api.Category) bool {
	_, ok := d.DismissedWarnings[c]
	return ok
}

// AlertDismissed reports whether the alert was dismissed or acted on today.
func (d DayState) AlertDismissed(a Alert) bool {
	_, ok := d.DismissedAlerts[a.Key()]
	return ok
}

// MerchantBlocked reports whether the merchant is inside a block window.
func (d DayState) MerchantBlocked(merchant string) bool {
	_, ok := d.BlockedMerchants[strings.ToLower(strings.TrimSpace(merchant))]
	return ok
}

// LoadDayState reads the suppression state in effect at now.
func LoadDayState(ctx context.Context, prefs api.PreferenceStore, now time.Time, loc *time.Location) (DayState, error) {
	day := budget.DayKey(now, loc)
	ds := DayState{
		Day:               day,
		DismissedWarnings: make(map[api.Category]struct{}),
		DismissedAlerts:   make(map[string]struct{}),
		BlockedMerchants:  make(map[string]struct{}),
	}

	warnings, err := prefs.Members(ctx, warningsKey(day))
	if err != nil {
		return DayState{}, fmt.Errorf("loading dismissed warnings: %w", err)
	}
	for _, c := range warnings {
		ds.DismissedWarnings[api.Category(c)] = struct{}{}
	}

	alerts, err := prefs.Members(ctx, alertsKey(day))
	if err != nil {
		return DayState{}, fmt.Errorf("loading dismissed alerts: %w", err)
	}
	for _, k := range alerts {
		ds.DismissedAlerts[k] = struct{}{}
	}

	// A block set yesterday can still be inside its window.
	yesterday := budget.DayKey(budget.DayStart(now, loc).Add(-time.Hour), loc)
	for _, d := range []string{day, yesterday} {
		names, err := prefs.Members(ctx, blockedKey(d))
		if err != nil {
			return DayState{}, fmt.Errorf("loading blocked merchants: %w", err)
		}
		for _, name := range names {
			active, err := blockActive(ctx, prefs, name, now)
			if err != nil {
				return DayState{}, err
			}
			if active {
				ds.BlockedMerchants[name] = struct{}{}
			}
		}
	}
	return ds, nil
}

func blockActive(ctx context.Context, prefs api.PreferenceStore, name string, now time.Time) (bool, error) {
	v, ok, err := prefs.Marker(ctx, blockedUntilKey(name))
	if err != nil {
		return false, fmt.Errorf("loading block expiry for %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	until, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return false, nil
	}
	return now.Before(until), nil
}
