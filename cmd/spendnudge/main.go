package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/ArionMiles/spendnudge/pkg/config"
	"github.com/ArionMiles/spendnudge/pkg/logging"
)

// Version is set at build time with -ldflags.
var Version = "development"

type RunCmd struct {
	Restore bool `arg:"--restore" help:"restore from the backup before starting"`
}

type ScanCmd struct {
	Limit int `arg:"-n,--limit" help:"number of newest messages to read (default from config)"`
}

type PendingCmd struct{}

type ConfirmCmd struct {
	ID       int64  `arg:"positional,required" help:"transaction id"`
	Category string `arg:"positional,required" help:"expense category"`
}

type AddCmd struct {
	Amount    string `arg:"positional,required" help:"amount, e.g. 249.50"`
	Category  string `arg:"-c,--category" help:"category, required for debits"`
	Merchant  string `arg:"-m,--merchant" help:"merchant or payee"`
	Credit    bool   `arg:"--credit" help:"record money received instead of spent"`
	Timestamp string `arg:"--at" help:"RFC3339 time of the transaction (default now)"`
}

type SummaryCmd struct {
	Range string `arg:"--range" default:"month" help:"analytics window: week or month"`
}

type BudgetSetCmd struct {
	Category string `arg:"positional,required" help:"expense category"`
	Amount   string `arg:"positional,required" help:"monthly budget"`
	NoAlerts bool   `arg:"--no-alerts" help:"disable alerts for this category"`
}

type BudgetImportCmd struct {
	File string `arg:"positional,required" help:"YAML file with a list of budgets"`
}

type BudgetListCmd struct{}

type BudgetDeleteCmd struct {
	Category string `arg:"positional,required" help:"expense category"`
}

type BudgetCmd struct {
	List   *BudgetListCmd   `arg:"subcommand:list" help:"list this month's budgets"`
	Set    *BudgetSetCmd    `arg:"subcommand:set" help:"set one category budget for this month"`
	Delete *BudgetDeleteCmd `arg:"subcommand:delete" help:"remove a category budget for this month"`
	Import *BudgetImportCmd `arg:"subcommand:import" help:"import budgets for this month from YAML"`
}

type AlertsCmd struct {
	Dismiss        bool   `arg:"--dismiss" help:"dismiss the active alert"`
	DismissWarning string `arg:"--dismiss-warning" help:"hide a category's 80% warning for today" placeholder:"CATEGORY"`
	Block          string `arg:"--block" help:"block a merchant for 24 hours" placeholder:"MERCHANT"`
	PatternBudget  string `arg:"--pattern-budget" help:"set a spending cap for a merchant" placeholder:"MERCHANT"`
	Amount         string `arg:"--amount" help:"cap for --pattern-budget (default suggested)"`
}

type PointsCmd struct {
	Limit int `arg:"-n,--limit" default:"10" help:"number of recent point events to show"`
}

type RestoreCmd struct{}

type AuthCmd struct {
	Force bool `arg:"-f,--force" help:"re-authenticate even if a token exists"`
}

type StatusCmd struct{}

type Args struct {
	Config string `arg:"-c,--config,env:SPENDNUDGE_CONFIG" help:"path to a JSON config file"`

	Run     *RunCmd     `arg:"subcommand:run" help:"run the ingestion daemon"`
	Scan    *ScanCmd    `arg:"subcommand:scan" help:"scan the message source once"`
	Pending *PendingCmd `arg:"subcommand:pending" help:"list transactions awaiting a category"`
	Confirm *ConfirmCmd `arg:"subcommand:confirm" help:"assign a category to a pending transaction"`
	Add     *AddCmd     `arg:"subcommand:add" help:"record a manual transaction"`
	Summary *SummaryCmd `arg:"subcommand:summary" help:"show this month's totals and budget usage"`
	Budget  *BudgetCmd  `arg:"subcommand:budget" help:"manage monthly budgets"`
	Alerts  *AlertsCmd  `arg:"subcommand:alerts" help:"evaluate and act on alerts"`
	Points  *PointsCmd  `arg:"subcommand:points" help:"show points, streak and achievements"`
	Restore *RestoreCmd `arg:"subcommand:restore" help:"restore confirmed history from the backup"`
	Auth    *AuthCmd    `arg:"subcommand:auth" help:"authorize Google access"`
	Status  *StatusCmd  `arg:"subcommand:status" help:"check configuration and connectivity"`
}

func (Args) Version() string {
	return "spendnudge " + Version
}

func (Args) Description() string {
	return "spendnudge turns bank and UPI SMS alerts into a categorized ledger with budget nudges."
}

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	var args Args
	p, err := arg.NewParser(arg.Config{Program: "spendnudge"}, &args)
	if err != nil {
		logger.Error("failed to create argument parser", "error", err)
		os.Exit(1)
	}

	if err := p.Parse(os.Args[1:]); err != nil {
		switch err {
		case arg.ErrHelp:
			p.WriteHelpForSubcommand(os.Stdout, p.SubcommandNames()...)
			os.Exit(0)
		case arg.ErrVersion:
			fmt.Println(args.Version())
			os.Exit(0)
		}
		p.FailSubcommand(err.Error(), p.SubcommandNames()...)
	}
	if p.Subcommand() == nil {
		p.WriteHelp(os.Stdout)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, &args, logger); err != nil {
		logger.Error("command failed", "command", p.SubcommandNames(), "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, args *Args, logger *slog.Logger) error {
	cfg, err := config.Load(args.Config)
	if err != nil {
		if args.Status != nil {
			return runStatus(ctx, nil, err, logger)
		}
		return fmt.Errorf("loading config: %w", err)
	}

	switch {
	case args.Run != nil:
		return runDaemon(ctx, cfg, args.Run, logger)
	case args.Auth != nil:
		return runAuth(ctx, cfg, args.Auth, logger)
	case args.Status != nil:
		return runStatus(ctx, cfg, nil, logger)
	}

	a, err := newApp(ctx, cfg, args.Scan != nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case args.Scan != nil:
		return a.scan(ctx, args.Scan)
	case args.Pending != nil:
		return a.pending(ctx)
	case args.Confirm != nil:
		return a.confirm(ctx, args.Confirm)
	case args.Add != nil:
		return a.add(ctx, args.Add)
	case args.Summary != nil:
		return a.summary(ctx, args.Summary)
	case args.Budget != nil:
		return a.budget(ctx, args.Budget)
	case args.Alerts != nil:
		return a.alerts(ctx, args.Alerts)
	case args.Points != nil:
		return a.points(ctx, args.Points)
	case args.Restore != nil:
		return a.restore(ctx)
	}
	return nil
}
