// Package sheets implements a backup sink that writes to Google Sheets.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// Defaults for sheet names and rate-limit retries.
const (
	DefaultTransactionsSheet = "Transactions"
	DefaultBudgetsSheet      = "Budgets"
	DefaultRetryDelay        = 60 * time.Second
)

const periodLayout = "2006-01"

var (
	transactionHeader = []any{"Date/Time", "Merchant", "Amount", "Direction", "Category", "Source", "Fingerprint", "ID"}
	budgetHeader      = []any{"Period", "Category", "Amount", "Alerts"}
)

// Config holds configuration for the Sheets sink.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string
	// TransactionsSheet is the tab confirmed transactions are appended to.
	TransactionsSheet string
	// BudgetsSheet is the tab holding allocations.
	BudgetsSheet string
	// RetryDelay is the wait between rate-limited attempts.
	RetryDelay time.Duration
	// Endpoint overrides the Sheets API base URL.
	Endpoint string
}

// Sink backs up to a Google Sheet. It also restores from it.
type Sink struct {
	client        *sheets.Service
	spreadsheetID string
	txSheet       string
	budgetSheet   string
	retryDelay    time.Duration
	logger        *slog.Logger
}

// New creates a Sheets sink, creating the spreadsheet and its tabs if needed.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	s := &Sink{
		client:      client,
		txSheet:     cfg.TransactionsSheet,
		budgetSheet: cfg.BudgetsSheet,
		retryDelay:  cfg.RetryDelay,
		logger:      logger,
	}
	if s.txSheet == "" {
		s.txSheet = DefaultTransactionsSheet
	}
	if s.budgetSheet == "" {
		s.budgetSheet = DefaultBudgetsSheet
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}

	id, err := s.initSpreadsheet(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}
	s.spreadsheetID = id

	logger.Info("sheets backup initialized", "spreadsheet_id", id)
	return s, nil
}

func (s *Sink) initSpreadsheet(ctx context.Context, cfg Config) (string, error) {
	if cfg.SheetID != "" {
		spreadsheet, err := s.client.Spreadsheets.Get(cfg.SheetID).Context(ctx).Do()
		if err == nil {
			s.logger.Info("using existing spreadsheet", "title", spreadsheet.Properties.Title, "id", cfg.SheetID)
			return cfg.SheetID, s.ensureTabs(ctx, spreadsheet)
		}
		s.logger.Warn("failed to get spreadsheet, will create new one", "id", cfg.SheetID, "error", err)
	}

	spreadsheet, err := s.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: cfg.SheetTitle},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: s.txSheet}},
			{Properties: &sheets.SheetProperties{Title: s.budgetSheet}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}
	s.logger.Info("created new spreadsheet", "title", cfg.SheetTitle, "id", spreadsheet.SpreadsheetId)

	if err := s.writeHeader(ctx, spreadsheet.SpreadsheetId, s.txSheet, transactionHeader); err != nil {
		return "", err
	}
	return spreadsheet.SpreadsheetId, nil
}

// ensureTabs adds the transactions and budgets tabs to an existing
// spreadsheet when they are missing.
func (s *Sink) ensureTabs(ctx context.Context, spreadsheet *sheets.Spreadsheet) error {
	existing := make(map[string]bool)
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties != nil {
			existing[sh.Properties.Title] = true
		}
	}

	for _, tab := range []struct {
		title  string
		header []any
	}{{s.txSheet, transactionHeader}, {s.budgetSheet, nil}} {
		if existing[tab.title] {
			continue
		}
		_, err := s.client.Spreadsheets.BatchUpdate(spreadsheet.SpreadsheetId, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: tab.title},
			}}},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("adding sheet %s: %w", tab.title, err)
		}
		if tab.header != nil {
			if err := s.writeHeader(ctx, spreadsheet.SpreadsheetId, tab.title, tab.header); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sink) writeHeader(ctx context.Context, spreadsheetID, sheet string, header []any) error {
	_, err := s.client.Spreadsheets.Values.Update(spreadsheetID, sheet+"!A1", &sheets.ValueRange{
		Values: [][]any{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing %s headers: %w", sheet, err)
	}
	return nil
}

// SpreadsheetID returns the ID of the spreadsheet being written to.
func (s *Sink) SpreadsheetID() string {
	return s.spreadsheetID
}

// WriteTransactions appends a batch of transactions in a single API call.
func (s *Sink) WriteTransactions(ctx context.Context, txs []api.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	values := make([][]any, 0, len(txs))
	for _, tx := range txs {
		values = append(values, transactionRow(tx))
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.client.Spreadsheets.Values.Append(s.spreadsheetID, s.txSheet+"!A2", &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("appending batch to sheet: %w", err)
	}

	s.logger.Info("wrote transaction batch", "count", len(txs), "first_merchant", txs[0].Merchant)
	return nil
}

// WriteAllocations replaces a period's rows in the budgets tab.
func (s *Sink) WriteAllocations(ctx context.Context, periodStart time.Time, allocations []api.BudgetAllocation) error {
	existing, err := s.readRows(ctx, s.budgetSheet+"!A2:D")
	if err != nil {
		return err
	}

	rows := mergeBudgetRows(existing, periodStart.Format(periodLayout), allocations)

	err = s.withRetry(ctx, func() error {
		if _, err := s.client.Spreadsheets.Values.Clear(s.spreadsheetID, s.budgetSheet+"!A:D", &sheets.ClearValuesRequest{}).
			Context(ctx).Do(); err != nil {
			return err
		}
		_, err := s.client.Spreadsheets.Values.Update(s.spreadsheetID, s.budgetSheet+"!A1", &sheets.ValueRange{
			Values: append([][]any{budgetHeader}, rows...),
		}).ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("writing budgets sheet: %w", err)
	}

	s.logger.Info("wrote budgets", "period", periodStart.Format(periodLayout), "count", len(allocations))
	return nil
}

// RestoreTransactions reads every transaction row.
func (s *Sink) RestoreTransactions(ctx context.Context) ([]api.Transaction, error) {
	rows, err := s.readRows(ctx, s.txSheet+"!A2:H")
	if err != nil {
		return nil, err
	}
	out := make([]api.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := parseTransactionRow(row)
		if err != nil {
			s.logger.Warn("skipping transaction row", "row", i+2, "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// RestoreAllocations reads every budget row.
func (s *Sink) RestoreAllocations(ctx context.Context) ([]api.BudgetAllocation, error) {
	rows, err := s.readRows(ctx, s.budgetSheet+"!A2:D")
	if err != nil {
		return nil, err
	}
	out := make([]api.BudgetAllocation, 0, len(rows))
	for i, row := range rows {
		a, err := parseBudgetRow(row)
		if err != nil {
			s.logger.Warn("skipping budget row", "row", i+2, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Sink) readRows(ctx context.Context, rng string) ([][]any, error) {
	var resp *sheets.ValueRange
	err := s.withRetry(ctx, func() error {
		var err error
		resp, err = s.client.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (s *Sink) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if rateLimited(err) {
				s.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(3),
		retry.Delay(s.retryDelay),
		retry.LastErrorOnly(true),
	)
}

func rateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

func transactionRow(tx api.Transaction) []any {
	return []any{
		tx.OccurredAt.Format(time.RFC3339),
		tx.Merchant,
		tx.Amount.StringFixed(2),
		string(tx.Direction),
		tx.CategoryName(),
		string(tx.Source),
		tx.Fingerprint,
		strconv.FormatInt(tx.ID, 10),
	}
}

func parseTransactionRow(row []any) (api.Transaction, error) {
	cell := func(i int) string {
		if i < len(row) {
			return fmt.Sprint(row[i])
		}
		return ""
	}

	at, err := time.Parse(time.RFC3339, cell(0))
	if err != nil {
		return api.Transaction{}, fmt.Errorf("parsing time: %w", err)
	}
	amount, err := decimal.NewFromString(cell(2))
	if err != nil {
		return api.Transaction{}, fmt.Errorf("parsing amount: %w", err)
	}
	dir := api.Direction(cell(3))
	if dir != api.Debit && dir != api.Credit {
		return api.Transaction{}, fmt.Errorf("unknown direction %q", cell(3))
	}

	tx := api.Transaction{
		Amount:      amount,
		Direction:   dir,
		Merchant:    cell(1),
		OccurredAt:  at,
		Source:      api.Source(cell(5)),
		Status:      api.Confirmed,
		Fingerprint: cell(6),
	}
	if name := cell(4); name != "" {
		c, err := api.ParseCategory(name)
		if err != nil {
			return api.Transaction{}, err
		}
		tx.Category = &c
	}
	return tx, nil
}

func budgetRow(period string, a api.BudgetAllocation) []any {
	return []any{period, string(a.Category), a.Amount.StringFixed(2), strconv.FormatBool(a.AlertsEnabled)}
}

// mergeBudgetRows drops the rows of period from existing and appends the
// new allocations.
func mergeBudgetRows(existing [][]any, period string, allocations []api.BudgetAllocation) [][]any {
	rows := make([][]any, 0, len(existing)+len(allocations))
	for _, row := range existing {
		if len(row) > 0 && fmt.Sprint(row[0]) == period {
			continue
		}
		rows = append(rows, row)
	}
	for _, a := range allocations {
		rows = append(rows, budgetRow(period, a))
	}
	return rows
}

func parseBudgetRow(row []any) (api.BudgetAllocation, error) {
	if len(row) < 3 {
		return api.BudgetAllocation{}, fmt.Errorf("expected at least 3 cells, got %d", len(row))
	}
	start, err := time.Parse(periodLayout, fmt.Sprint(row[0]))
	if err != nil {
		return api.BudgetAllocation{}, fmt.Errorf("parsing period: %w", err)
	}
	c, err := api.ParseCategory(fmt.Sprint(row[1]))
	if err != nil {
		return api.BudgetAllocation{}, err
	}
	amount, err := decimal.NewFromString(fmt.Sprint(row[2]))
	if err != nil {
		return api.BudgetAllocation{}, fmt.Errorf("parsing amount: %w", err)
	}
	alerts := true
	if len(row) > 3 {
		if v, err := strconv.ParseBool(fmt.Sprint(row[3])); err == nil {
			alerts = v
		}
	}
	return api.BudgetAllocation{Category: c, Amount: amount, PeriodStart: start, AlertsEnabled: alerts}, nil
}
