package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/spendnudge/internal/plugins"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/backup"
	"github.com/ArionMiles/spendnudge/pkg/client"
	"github.com/ArionMiles/spendnudge/pkg/config"
	"github.com/ArionMiles/spendnudge/pkg/store/memory"
	"github.com/ArionMiles/spendnudge/pkg/store/postgres"
	"github.com/ArionMiles/spendnudge/pkg/tracker"
)

// app holds everything a command runs against.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      api.Store
	tracker    *tracker.Tracker
	source     api.MessageSource
	sink       api.BackupSink
	dispatcher *backup.Dispatcher
}

// newApp opens the store and builds the tracker. The message source is
// only created when withSource is set, so commands that never read
// messages do not need its credentials.
func newApp(ctx context.Context, cfg *config.Config, withSource bool, logger *slog.Logger) (*app, error) {
	registry, err := plugins.NewDefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("registering plugins: %w", err)
	}

	scopes, err := requiredScopes(registry, cfg, withSource)
	if err != nil {
		return nil, err
	}

	httpClient := http.DefaultClient
	if len(scopes) > 0 {
		logger.Debug("OAuth scopes required", "scopes", scopes)
		httpClient, err = client.New(ctx, cfg.ClientSecretFile, cfg.TokenFile, scopes...)
		if err != nil {
			return nil, fmt.Errorf("creating http client: %w", err)
		}
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store}

	opts := []tracker.Option{tracker.WithLocation(cfg.Location())}
	if cfg.Backup != "" {
		a.sink, err = registry.CreateBackup(ctx, cfg.Backup, httpClient, cfg.BackupConfig, logger.With("component", cfg.Backup+"_backup"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating %s backup: %w", cfg.Backup, err)
		}
		a.dispatcher = backup.New(a.sink, backup.Config{
			BatchSize:     cfg.BackupBatchSize,
			FlushInterval: cfg.BackupFlushInterval,
		}, logger)
		opts = append(opts, tracker.WithBackup(a.dispatcher))
	}
	a.tracker = tracker.New(store, logger, opts...)

	if withSource {
		a.source, err = registry.CreateSource(cfg.Source, httpClient, cfg.SourceConfig, logger.With("component", cfg.Source+"_source"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating %s source: %w", cfg.Source, err)
		}
	}

	logger.Info("configuration loaded",
		"store", cfg.Store,
		"source", cfg.Source,
		"backup", cfg.Backup,
		"timezone", cfg.Timezone,
	)
	return a, nil
}

func requiredScopes(registry *plugins.Registry, cfg *config.Config, withSource bool) ([]string, error) {
	if withSource {
		scopes, err := registry.GetAllScopes(cfg.Source, cfg.Backup)
		if err != nil {
			return nil, fmt.Errorf("getting required scopes: %w", err)
		}
		return scopes, nil
	}
	if cfg.Backup == "" {
		return nil, nil
	}
	p, err := registry.GetBackup(cfg.Backup)
	if err != nil {
		return nil, err
	}
	return p.RequiredScopes(), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (api.Store, error) {
	switch cfg.Store {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.PostgresDSN,
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	default:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	}
}

// restorer returns the configured backup as a Restorer, if it is one.
func (a *app) restorer() (api.Restorer, error) {
	if a.sink == nil {
		return nil, fmt.Errorf("no backup configured")
	}
	r, ok := a.sink.(api.Restorer)
	if !ok {
		return nil, fmt.Errorf("backup %s cannot restore", a.cfg.Backup)
	}
	return r, nil
}

// Close flushes pending backups and releases the store.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
		if n := a.dispatcher.Dropped(); n > 0 {
			a.logger.Warn("backup records dropped", "count", n)
		}
	}
	if c, ok := a.sink.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing backup", "error", err)
		}
	}
	a.store.Close()
}
