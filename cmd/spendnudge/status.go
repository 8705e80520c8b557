package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ArionMiles/spendnudge/internal/plugins"
	"github.com/ArionMiles/spendnudge/pkg/client"
	"github.com/ArionMiles/spendnudge/pkg/config"
)

// runStatus checks the configuration, credentials and connectivity. loadErr
// is the config error, if loading failed.
func runStatus(ctx context.Context, cfg *config.Config, loadErr error, logger *slog.Logger) error {
	fmt.Println("=== spendnudge status ===")
	fmt.Println()

	allGood := true

	fmt.Print("Configuration: ")
	if loadErr != nil {
		fmt.Printf("✗ %v\n", loadErr)
		printFinalStatus(false)
		return nil
	}
	fmt.Printf("✓ store=%s source=%s backup=%s timezone=%s\n", cfg.Store, cfg.Source, orNone(cfg.Backup), cfg.Timezone)

	registry, err := plugins.NewDefaultRegistry()
	if err != nil {
		return err
	}
	scopes, err := registry.GetAllScopes(cfg.Source, cfg.Backup)
	if err != nil {
		fmt.Printf("Plugins: ✗ %v\n", err)
		printPlugins(registry)
		printFinalStatus(false)
		return nil
	}

	if len(scopes) > 0 {
		checkCredentials(cfg, &allGood)
	}

	if allGood {
		checkConnectivity(ctx, cfg, logger, &allGood)
	}

	printFinalStatus(allGood)
	return nil
}

func checkCredentials(cfg *config.Config, allGood *bool) {
	fmt.Printf("Credentials file (%s): ", cfg.ClientSecretFile)
	if _, err := os.Stat(cfg.ClientSecretFile); os.IsNotExist(err) {
		fmt.Println("✗ Not found")
		*allGood = false
	} else {
		fmt.Println("✓ Found")
	}

	fmt.Printf("OAuth token (%s): ", cfg.TokenFile)
	token, err := client.TokenFromFile(cfg.TokenFile)
	switch {
	case os.IsNotExist(err):
		fmt.Println("✗ Not found (run 'spendnudge auth')")
		*allGood = false
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	case token.Expiry.Before(time.Now()):
		fmt.Println("⚠ Expired (will refresh on next run)")
	default:
		fmt.Printf("✓ Valid (expires: %s)\n", token.Expiry.Format(time.RFC3339))
	}
}

func checkConnectivity(ctx context.Context, cfg *config.Config, logger *slog.Logger, allGood *bool) {
	fmt.Println()
	fmt.Println("Connectivity:")

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, true, logger)
	if err != nil {
		fmt.Printf("  Setup: ✗ %v\n", err)
		*allGood = false
		return
	}
	defer a.Close()
	fmt.Printf("  Store (%s): ✓ Connected\n", cfg.Store)

	fmt.Printf("  Source (%s): ", cfg.Source)
	msgs, err := a.source.Messages(ctx, 1)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	} else {
		fmt.Printf("✓ Readable (%d message sampled)\n", len(msgs))
	}

	if cfg.Backup != "" {
		fmt.Printf("  Backup (%s): ", cfg.Backup)
		if _, err := a.restorer(); err != nil {
			fmt.Printf("⚠ %v\n", err)
		} else {
			fmt.Println("✓ Ready")
		}
	}
}

func printPlugins(registry *plugins.Registry) {
	fmt.Println()
	fmt.Println("Available sources:")
	for _, p := range registry.ListSources() {
		fmt.Printf("  %-8s %s\n", p.Name(), p.Description())
	}
	fmt.Println("Available backups:")
	for _, p := range registry.ListBackups() {
		fmt.Printf("  %-8s %s\n", p.Name(), p.Description())
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready to run")
		fmt.Println()
		fmt.Println("Run 'spendnudge run' to start tracking spending.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'spendnudge status' again.")
	}
}
