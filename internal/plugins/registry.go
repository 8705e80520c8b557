// Package plugins provides a registry for message-source and backup plugins.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// SourcePlugin builds message sources.
type SourcePlugin interface {
	// Name returns the plugin name (e.g., "gmail", "mbox").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewSource creates a source with the given config.
	NewSource(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.MessageSource, error)
}

// BackupPlugin builds backup sinks. A sink may also implement api.Restorer.
type BackupPlugin interface {
	// Name returns the plugin name (e.g., "sheets", "json", "gcs").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewSink creates a sink with the given config.
	NewSink(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.BackupSink, error)
}

// Registry manages available plugins.
type Registry struct {
	sources map[string]SourcePlugin
	backups map[string]BackupPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourcePlugin),
		backups: make(map[string]BackupPlugin),
	}
}

// RegisterSource registers a source plugin.
func (r *Registry) RegisterSource(plugin SourcePlugin) error {
	name := plugin.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source plugin %q already registered", name)
	}
	r.sources[name] = plugin
	return nil
}

// RegisterBackup registers a backup plugin.
func (r *Registry) RegisterBackup(plugin BackupPlugin) error {
	name := plugin.Name()
	if _, exists := r.backups[name]; exists {
		return fmt.Errorf("backup plugin %q already registered", name)
	}
	r.backups[name] = plugin
	return nil
}

// GetSource returns a source plugin by name.
func (r *Registry) GetSource(name string) (SourcePlugin, error) {
	plugin, exists := r.sources[name]
	if !exists {
		return nil, fmt.Errorf("source plugin %q not found", name)
	}
	return plugin, nil
}

// GetBackup returns a backup plugin by name.
func (r *Registry) GetBackup(name string) (BackupPlugin, error) {
	plugin, exists := r.backups[name]
	if !exists {
		return nil, fmt.Errorf("backup plugin %q not found", name)
	}
	return plugin, nil
}

// ListSources returns all registered source plugins sorted by name.
func (r *Registry) ListSources() []SourcePlugin {
	plugins := make([]SourcePlugin, 0, len(r.sources))
	for _, plugin := range r.sources {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// ListBackups returns all registered backup plugins sorted by name.
func (r *Registry) ListBackups() []BackupPlugin {
	plugins := make([]BackupPlugin, 0, len(r.backups))
	for _, plugin := range r.backups {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// GetAllScopes returns the OAuth scopes needed by a source and an optional
// backup. An empty backup name is ignored.
func (r *Registry) GetAllScopes(sourceName, backupName string) ([]string, error) {
	source, err := r.GetSource(sourceName)
	if err != nil {
		return nil, err
	}

	scopeSet := make(map[string]struct{})
	for _, scope := range source.RequiredScopes() {
		scopeSet[scope] = struct{}{}
	}
	if backupName != "" {
		backup, err := r.GetBackup(backupName)
		if err != nil {
			return nil, err
		}
		for _, scope := range backup.RequiredScopes() {
			scopeSet[scope] = struct{}{}
		}
	}

	scopes := make([]string, 0, len(scopeSet))
	for scope := range scopeSet {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// CreateSource creates a message source from a plugin.
func (r *Registry) CreateSource(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.MessageSource, error) {
	plugin, err := r.GetSource(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewSource(httpClient, config, logger)
}

// CreateBackup creates a backup sink from a plugin.
func (r *Registry) CreateBackup(ctx context.Context, name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.BackupSink, error) {
	plugin, err := r.GetBackup(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewSink(ctx, httpClient, config, logger)
}
