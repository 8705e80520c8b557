// Package gcs provides a plugin wrapper for the Cloud Storage backup.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/spendnudge/pkg/api"
	gcsbackup "github.com/ArionMiles/spendnudge/pkg/backup/gcs"
)

// Plugin implements the BackupPlugin interface for Google Cloud Storage.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "gcs"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Back up transactions and budgets to a Cloud Storage object"
}

// RequiredScopes returns nil; the sink authenticates with Application
// Default Credentials.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"bucket": map[string]any{
				"type":        "string",
				"description": "Bucket holding the backup object",
			},
			"object": map[string]any{
				"type":        "string",
				"description": "Object name of the backup snapshot",
				"default":     gcsbackup.DefaultObject,
			},
		},
		"required": []string{"bucket"},
	}
}

// Config represents the GCS backup configuration.
type Config struct {
	Bucket string `json:"bucket"`
	Object string `json:"object,omitempty"`
}

// NewSink creates a new GCS backup sink.
func (p *Plugin) NewSink(ctx context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.BackupSink, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling gcs config: %w", err)
		}
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	return gcsbackup.New(ctx, gcsbackup.Config{Bucket: cfg.Bucket, Object: cfg.Object}, logger)
}
