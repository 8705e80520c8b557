// Package gmail provides a plugin wrapper for the Gmail message source.
package gmail

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/spendnudge/pkg/api"
	gmailreader "github.com/ArionMiles/spendnudge/pkg/reader/gmail"
)

// Plugin implements the SourcePlugin interface for Gmail.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "gmail"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read bank and UPI notifications forwarded to Gmail"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return []string{gmailapi.GmailReadonlyScope}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Gmail search query selecting forwarded notifications",
				"default":     gmailreader.DefaultQuery,
			},
			"senderFrom": map[string]any{
				"type":        "string",
				"description": "Header carrying the original sender code",
				"enum":        []string{gmailreader.SenderFromSubject, gmailreader.SenderFromName},
				"default":     gmailreader.SenderFromSubject,
			},
		},
	}
}

// Config represents the Gmail source configuration.
type Config struct {
	Query      string `json:"query,omitempty"`
	SenderFrom string `json:"senderFrom,omitempty"`
}

// NewSource creates a new Gmail source.
func (p *Plugin) NewSource(httpClient *http.Client, configData json.RawMessage, logger *slog.Logger) (api.MessageSource, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling gmail config: %w", err)
		}
	}
	switch cfg.SenderFrom {
	case "", gmailreader.SenderFromSubject, gmailreader.SenderFromName:
	default:
		return nil, fmt.Errorf("unknown senderFrom %q", cfg.SenderFrom)
	}

	return gmailreader.New(httpClient, gmailreader.Config{
		Query:      cfg.Query,
		SenderFrom: cfg.SenderFrom,
	}, logger)
}
