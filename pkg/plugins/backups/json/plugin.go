// Package json provides a plugin wrapper for the JSON file backup.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/spendnudge/pkg/api"
	jsonbackup "github.com/ArionMiles/spendnudge/pkg/backup/json"
)

// Plugin implements the BackupPlugin interface for JSON files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "json"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Back up transactions and budgets to a JSON file"
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
				"description": "Path to the JSON backup file",
			},
		},
		"required": []string{"filePath"},
	}
}

// Config represents the JSON backup configuration.
type Config struct {
	FilePath string `json:"filePath"`
}

// NewSink creates a new JSON backup sink.
func (p *Plugin) NewSink(_ context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.BackupSink, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling json config: %w", err)
		}
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}

	return jsonbackup.New(jsonbackup.Config{FilePath: cfg.FilePath}, logger)
}
