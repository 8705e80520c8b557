// Package mbox provides a plugin wrapper for the mbox message source.
package mbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
	mboxreader "github.com/ArionMiles/spendnudge/pkg/reader/mbox"
)

// Plugin implements the SourcePlugin interface for mbox files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "mbox"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read notifications from an mbox file, watching it for new messages"
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
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the mbox file",
			},
			"senderFrom": map[string]any{
				"type":        "string",
				"description": "Header carrying the original sender code",
				"enum":        []string{mboxreader.SenderFromSubject, mboxreader.SenderFromName},
				"default":     mboxreader.SenderFromSubject,
			},
			"pollInterval": map[string]any{
				"type":        "integer",
				"description": "Seconds between checks for new messages (default: 5)",
				"default":     5,
			},
		},
		"required": []string{"path"},
	}
}

// Config represents the mbox source configuration.
type Config struct {
	Path         string `json:"path"`
	SenderFrom   string `json:"senderFrom,omitempty"`
	PollInterval int    `json:"pollInterval,omitempty"` // in seconds
}

// NewSource creates a new mbox source. The returned source also implements
// api.Listener.
func (p *Plugin) NewSource(_ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.MessageSource, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling mbox config: %w", err)
		}
	}
	if cfg.Path == "" {
		return nil, errors.New("path is required")
	}

	return mboxreader.New(mboxreader.Config{
		Path:         cfg.Path,
		SenderFrom:   cfg.SenderFrom,
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
	}, logger)
}
