// Package sheets provides a plugin wrapper for the Google Sheets backup.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/spendnudge/pkg/api"
	sheetsbackup "github.com/ArionMiles/spendnudge/pkg/backup/sheets"
)

// Plugin implements the BackupPlugin interface for Google Sheets.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "sheets"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Back up transactions and budgets to Google Sheets"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return []string{sheetsapi.SpreadsheetsScope}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sheetTitle": map[string]any{
				"type":        "string",
				"description": "Title for a new spreadsheet (used if sheetId is not provided)",
			},
			"sheetId": map[string]any{
				"type":        "string",
				"description": "ID of an existing spreadsheet to use",
			},
			"transactionsSheet": map[string]any{
				"type":        "string",
				"description": "Tab confirmed transactions are appended to",
				"default":     sheetsbackup.DefaultTransactionsSheet,
			},
			"budgetsSheet": map[string]any{
				"type":        "string",
				"description": "Tab holding monthly budgets",
				"default":     sheetsbackup.DefaultBudgetsSheet,
			},
		},
	}
}

// Config represents the Sheets backup configuration.
type Config struct {
	SheetTitle        string `json:"sheetTitle,omitempty"`
	SheetID           string `json:"sheetId,omitempty"`
	TransactionsSheet string `json:"transactionsSheet,omitempty"`
	BudgetsSheet      string `json:"budgetsSheet,omitempty"`
}

// NewSink creates a new Sheets backup sink.
func (p *Plugin) NewSink(ctx context.Context, httpClient *http.Client, configData json.RawMessage, logger *slog.Logger) (api.BackupSink, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling sheets config: %w", err)
		}
	}
	if cfg.SheetID == "" && cfg.SheetTitle == "" {
		return nil, errors.New("either sheetId or sheetTitle is required")
	}

	sink, err := sheetsbackup.New(ctx, httpClient, sheetsbackup.Config{
		SheetTitle:        cfg.SheetTitle,
		SheetID:           cfg.SheetID,
		TransactionsSheet: cfg.TransactionsSheet,
		BudgetsSheet:      cfg.BudgetsSheet,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.SheetID == "" && logger != nil {
		logger.Info("created spreadsheet, set sheetId to reuse it", "sheetId", sink.SpreadsheetID())
	}
	return sink, nil
}
