// Package csv provides a plugin wrapper for the CSV file backup.
package csv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/spendnudge/pkg/api"
	csvbackup "github.com/ArionMiles/spendnudge/pkg/backup/csv"
)

// Plugin implements the BackupPlugin interface for CSV files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "csv"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Append transactions and budgets to CSV files (no restore)"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path to the transactions CSV file",
			},
			"budgetsFilePath": map[string]any{
				"type":        "string",
				"description": "Path to the budgets CSV file (optional)",
			},
		},
		"required": []string{"filePath"},
	}
}

// Config represents the CSV backup configuration.
type Config struct {
	FilePath        string `json:"filePath"`
	BudgetsFilePath string `json:"budgetsFilePath"`
}

// NewSink creates a new CSV backup sink.
func (p *Plugin) NewSink(_ context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.BackupSink, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling csv config: %w", err)
		}
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}

	return csvbackup.New(csvbackup.Config{FilePath: cfg.FilePath, BudgetsFilePath: cfg.BudgetsFilePath}, logger)
}
