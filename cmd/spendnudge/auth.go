package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ArionMiles/spendnudge/internal/plugins"
	"github.com/ArionMiles/spendnudge/pkg/client"
	"github.com/ArionMiles/spendnudge/pkg/config"
)

// runAuth handles the OAuth setup flow for the configured plugins.
func runAuth(ctx context.Context, cfg *config.Config, cmd *AuthCmd, logger *slog.Logger) error {
	registry, err := plugins.NewDefaultRegistry()
	if err != nil {
		return err
	}
	scopes, err := registry.GetAllScopes(cfg.Source, cfg.Backup)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		fmt.Printf("Neither %q nor %q needs Google authorization.\n", cfg.Source, cfg.Backup)
		return nil
	}

	if _, err := os.Stat(cfg.ClientSecretFile); os.IsNotExist(err) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", cfg.ClientSecretFile, cfg.ClientSecretFile)
	}

	if !cmd.Force {
		if _, err := os.Stat(cfg.TokenFile); err == nil {
			fmt.Printf("Already authenticated! Token file exists: %s\n", cfg.TokenFile)
			fmt.Println("To re-authenticate, run: spendnudge auth --force")
			return nil
		}
	}

	oauthCfg, err := client.ConfigFromFile(cfg.ClientSecretFile, scopes...)
	if err != nil {
		return err
	}

	fmt.Println("Requested permissions:")
	for _, s := range scopes {
		fmt.Printf("  - %s\n", s)
	}
	fmt.Println()

	if _, err := client.Authorize(ctx, oauthCfg, cfg.TokenFile, os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	logger.Info("token saved", "path", cfg.TokenFile)
	fmt.Println("\nAuthentication successful. Run 'spendnudge run' to start tracking.")
	return nil
}
