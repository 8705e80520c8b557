package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// budgetFile is the YAML layout accepted by "budget import":
//
//	budgets:
//	  - category: food
//	    amount: 6000
//	  - category: shopping
//	    amount: 2500
//	    alerts: false
type budgetFile struct {
	Budgets []budgetEntry `yaml:"budgets"`
}

type budgetEntry struct {
	Category string `yaml:"category"`
	Amount   string `yaml:"amount"`
	Alerts   *bool  `yaml:"alerts,omitempty"`
}

func (a *app) budget(ctx context.Context, cmd *BudgetCmd) error {
	switch {
	case cmd.List != nil:
		return a.listBudgets(ctx)

	case cmd.Delete != nil:
		category, err := api.ParseCategory(cmd.Delete.Category)
		if err != nil {
			return err
		}
		if err := a.tracker.DeleteBudget(ctx, category); err != nil {
			return err
		}
		fmt.Printf("%s budget removed.\n", category)

	case cmd.Set != nil:
		category, err := api.ParseCategory(cmd.Set.Category)
		if err != nil {
			return err
		}
		amount, err := decimal.NewFromString(cmd.Set.Amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", cmd.Set.Amount, err)
		}
		if err := a.tracker.SetBudget(ctx, category, amount, !cmd.Set.NoAlerts); err != nil {
			return err
		}
		fmt.Printf("%s budget set to %s.\n", category, amount.StringFixed(2))

	case cmd.Import != nil:
		f, err := os.Open(cmd.Import.File)
		if err != nil {
			return fmt.Errorf("opening budget file: %w", err)
		}
		defer f.Close()

		allocations, err := parseBudgets(f)
		if err != nil {
			return fmt.Errorf("budget file %s: %w", cmd.Import.File, err)
		}
		if err := a.tracker.ImportBudgets(ctx, allocations); err != nil {
			return err
		}
		fmt.Printf("Imported %d budgets.\n", len(allocations))

	default:
		return errors.New("budget needs a subcommand: list, set, delete or import")
	}

	state, err := a.tracker.Evaluate(ctx)
	if err != nil {
		return err
	}
	printAlerts(state)
	return nil
}

func (a *app) listBudgets(ctx context.Context) error {
	allocations, err := a.tracker.Budgets(ctx)
	if err != nil {
		return err
	}
	if len(allocations) == 0 {
		fmt.Println("No budgets set for this month.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tBUDGET\tALERTS")
	for _, al := range allocations {
		fmt.Fprintf(w, "%s\t%s\t%v\n", al.Category, al.Amount.StringFixed(2), al.AlertsEnabled)
	}
	return w.Flush()
}

// parseBudgets decodes a budget file. Unknown fields, unknown categories,
// non-positive amounts and repeated categories are rejected.
func parseBudgets(r io.Reader) ([]api.BudgetAllocation, error) {
	var file budgetFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("file is empty")
		}
		return nil, err
	}

	seen := make(map[api.Category]bool, len(file.Budgets))
	out := make([]api.BudgetAllocation, 0, len(file.Budgets))
	for i, e := range file.Budgets {
		category, err := api.ParseCategory(e.Category)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if seen[category] {
			return nil, fmt.Errorf("entry %d: %s listed twice", i+1, category)
		}
		seen[category] = true

		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return nil, fmt.Errorf("entry %d: invalid amount %q", i+1, e.Amount)
		}
		if !amount.IsPositive() {
			return nil, fmt.Errorf("entry %d: amount must be positive", i+1)
		}

		alertsEnabled := true
		if e.Alerts != nil {
			alertsEnabled = *e.Alerts
		}
		out = append(out, api.BudgetAllocation{Category: category, Amount: amount, AlertsEnabled: alertsEnabled})
	}
	return out, nil
}
