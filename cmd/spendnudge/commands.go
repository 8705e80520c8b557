package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/alerts"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/ledger"
)

func (a *app) scan(ctx context.Context, cmd *ScanCmd) error {
	limit := cmd.Limit
	if limit <= 0 {
		limit = a.cfg.ScanLimit
	}

	res, err := a.tracker.Scan(ctx, a.source, limit)
	if err != nil {
		return err
	}
	fmt.Printf("Read %d messages, detected %d transactions, inserted %d new.\n", res.Read, res.Detected, res.Inserted)

	state, err := a.tracker.Evaluate(ctx)
	if err != nil {
		return err
	}
	printAlerts(state)
	return nil
}

func (a *app) pending(ctx context.Context) error {
	txs, err := a.tracker.Pending(ctx)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Println("No pending transactions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tDIRECTION\tAMOUNT\tMERCHANT")
	for _, tx := range txs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			tx.ID,
			tx.OccurredAt.In(a.tracker.Location()).Format("02 Jan 15:04"),
			tx.Direction,
			tx.Amount.StringFixed(2),
			tx.Merchant,
		)
	}
	return w.Flush()
}

func (a *app) confirm(ctx context.Context, cmd *ConfirmCmd) error {
	category, err := api.ParseCategory(cmd.Category)
	if err != nil {
		return err
	}
	if err := a.tracker.Confirm(ctx, cmd.ID, category); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return fmt.Errorf("no transaction with id %d", cmd.ID)
		}
		return err
	}
	fmt.Printf("Transaction %d confirmed as %s.\n", cmd.ID, category)

	state, err := a.tracker.Evaluate(ctx)
	if err != nil {
		return err
	}
	printAlerts(state)
	return a.tracker.RunGamification(ctx)
}

func (a *app) add(ctx context.Context, cmd *AddCmd) error {
	amount, err := decimal.NewFromString(cmd.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", cmd.Amount, err)
	}

	tx := api.Transaction{
		Amount:    amount,
		Direction: api.Debit,
		Merchant:  strings.TrimSpace(cmd.Merchant),
	}
	if cmd.Credit {
		tx.Direction = api.Credit
	}
	if cmd.Category != "" && !cmd.Credit {
		c, err := api.ParseCategory(cmd.Category)
		if err != nil {
			return err
		}
		tx.Category = &c
	}
	if cmd.Timestamp != "" {
		if tx.OccurredAt, err = time.Parse(time.RFC3339, cmd.Timestamp); err != nil {
			return fmt.Errorf("invalid --at time: %w", err)
		}
	}

	id, err := a.tracker.AddManual(ctx, tx)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded transaction %d.\n", id)

	state, err := a.tracker.Evaluate(ctx)
	if err != nil {
		return err
	}
	printAlerts(state)
	return nil
}

func (a *app) summary(ctx context.Context, cmd *SummaryCmd) error {
	r, err := ledger.ParseRange(cmd.Range)
	if err != nil {
		return err
	}
	sum, err := a.tracker.MonthlySummary(ctx)
	if err != nil {
		return err
	}
	usage, err := a.tracker.Usage(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", a.tracker.CurrentPeriod().Format("January 2006"))
	fmt.Printf("  Income:  %s\n", sum.Income.StringFixed(2))
	fmt.Printf("  Expense: %s\n", sum.Expense.StringFixed(2))
	fmt.Printf("  Balance: %s\n", sum.Balance.StringFixed(2))

	if len(usage) == 0 {
		fmt.Println("\nNo budgets set for this month.")
	} else {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tSPENT\tBUDGET\tUSED\tALERTS")
		for _, u := range usage {
			alertsFlag := "on"
			if !u.AlertsEnabled {
				alertsFlag = "off"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", u.Category, u.Spent.StringFixed(2), u.Budget.StringFixed(2), u.Percent, alertsFlag)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	analytics, err := a.tracker.Analytics(ctx, r)
	if err != nil {
		return err
	}
	return printAnalytics(os.Stdout, analytics)
}

func printAnalytics(out io.Writer, a ledger.Analytics) error {
	fmt.Fprintf(out, "\n%s\n", a.Range.Label())
	if len(a.Breakdown) == 0 {
		fmt.Fprintln(out, "  No confirmed spending.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  CATEGORY\tSPENT\tSHARE")
	for _, c := range a.Breakdown {
		share := c.Amount.Mul(decimal.NewFromInt(100)).Div(a.Total).Round(0)
		fmt.Fprintf(w, "  %s\t%s\t%s%%\n", c.Category, c.Amount.StringFixed(2), share)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nDaily trend")
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, p := range a.Trend {
		fmt.Fprintf(w, "  %s\t%s\n", p.Day.Format("Mon 02 Jan"), p.Amount.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	top := make([]string, 0, len(a.Top))
	for _, c := range a.Top {
		top = append(top, string(c.Category))
	}
	fmt.Fprintf(out, "\nTop categories: %s\n", strings.Join(top, ", "))
	for _, insight := range a.Insights {
		fmt.Fprintf(out, "  * %s\n", insight)
	}
	return nil
}

func (a *app) alerts(ctx context.Context, cmd *AlertsCmd) error {
	state, err := a.tracker.Evaluate(ctx)
	if err != nil {
		return err
	}

	switch {
	case cmd.Dismiss:
		if _, err := a.tracker.DismissAlert(ctx); err != nil {
			if errors.Is(err, alerts.ErrNoActiveAlert) {
				fmt.Println("No active alert to dismiss.")
				return nil
			}
			return err
		}
		fmt.Println("Alert dismissed.")
		state = a.tracker.AlertState()

	case cmd.DismissWarning != "":
		category, err := api.ParseCategory(cmd.DismissWarning)
		if err != nil {
			return err
		}
		if state, err = a.tracker.DismissWarning(ctx, category); err != nil {
			return err
		}
		fmt.Printf("%s warning hidden for today.\n", category)

	case cmd.Block != "":
		if _, err := a.tracker.BlockMerchant(ctx, cmd.Block); err != nil {
			return err
		}
		fmt.Printf("%s blocked for 24 hours.\n", cmd.Block)
		state = a.tracker.AlertState()

	case cmd.PatternBudget != "":
		amount, err := a.patternAmount(ctx, cmd)
		if err != nil {
			return err
		}
		if _, err := a.tracker.CreatePatternBudget(ctx, cmd.PatternBudget, amount); err != nil {
			return err
		}
		fmt.Printf("Spending cap of %s set for %s.\n", amount.StringFixed(2), cmd.PatternBudget)
		state = a.tracker.AlertState()
	}

	printAlerts(state)
	return a.tracker.RunGamification(ctx)
}

func (a *app) patternAmount(ctx context.Context, cmd *AlertsCmd) (decimal.Decimal, error) {
	if cmd.Amount != "" {
		amount, err := decimal.NewFromString(cmd.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount %q: %w", cmd.Amount, err)
		}
		return amount, nil
	}
	return a.tracker.SuggestPatternBudget(ctx, cmd.PatternBudget)
}

func printAlerts(state alerts.State) {
	if state.Active != nil {
		fmt.Printf("\n[%s] %s\n", state.Active.Type, state.Active.Message)
		if state.Active.SuggestedAction != "" {
			fmt.Printf("  Suggested: %s\n", state.Active.SuggestedAction)
		}
	}
	for _, w := range state.Warnings {
		fmt.Printf("  %s is at %d%% of its budget (%s of %s)\n", w.Category, w.Percent, w.Spent.StringFixed(2), w.Budget.StringFixed(2))
	}
}

func (a *app) points(ctx context.Context, cmd *PointsCmd) error {
	if err := a.tracker.RunGamification(ctx); err != nil {
		return err
	}

	balance, err := a.tracker.PointsBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Points: %d\n", balance)
	fmt.Printf("Under-budget streak: %d days\n", a.tracker.Streak(ctx))

	recent, err := a.tracker.RecentPoints(ctx, cmd.Limit)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println("\nRecent:")
		for _, e := range recent {
			fmt.Printf("  %+4d  %-18s %s\n", e.Delta, e.Reason, e.OccurredAt.In(a.tracker.Location()).Format("02 Jan 15:04"))
		}
	}

	achievements, err := a.tracker.Achievements(ctx)
	if err != nil {
		return err
	}
	if len(achievements) > 0 {
		fmt.Println("\nAchievements:")
		for _, ach := range achievements {
			fmt.Printf("  %s: %s\n", ach.Title, ach.Description)
		}
	}
	return nil
}

func (a *app) restore(ctx context.Context) error {
	r, err := a.restorer()
	if err != nil {
		return err
	}
	res, err := a.tracker.Restore(ctx, r)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d transactions (%d already present) and %d budgets.\n", res.Transactions, res.Skipped, res.Allocations)
	return nil
}
