// Command smsdump reads messages from the configured source and writes each
// one, with the parser's verdict, to a JSON file. The dumps seed parser test
// fixtures.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/ArionMiles/spendnudge/internal/plugins"
	"github.com/ArionMiles/spendnudge/pkg/api"
	"github.com/ArionMiles/spendnudge/pkg/client"
	"github.com/ArionMiles/spendnudge/pkg/config"
	"github.com/ArionMiles/spendnudge/pkg/detector"
	"github.com/ArionMiles/spendnudge/pkg/logging"
	"github.com/ArionMiles/spendnudge/pkg/parser"
)

type Args struct {
	Config       string `arg:"-c,--config,env:SPENDNUDGE_CONFIG" help:"path to a JSON config file"`
	Out          string `arg:"-o,--out" default:"testdata/dump" help:"directory to write dumps into"`
	Limit        int    `arg:"-n,--limit" default:"50" help:"number of newest messages to dump"`
	RejectedOnly bool   `arg:"--rejected" help:"only dump messages the parser rejected"`
}

// Dump is the on-disk record for one message.
type Dump struct {
	Message     api.Message `json:"message"`
	Trusted     bool        `json:"trusted"`
	Rejection   string      `json:"rejection,omitempty"`
	Amount      string      `json:"amount,omitempty"`
	Direction   string      `json:"direction,omitempty"`
	Merchant    string      `json:"merchant,omitempty"`
	Fingerprint string      `json:"fingerprint"`
}

func analyze(msg api.Message) Dump {
	d := Dump{
		Message:     msg,
		Trusted:     parser.IsTrusted(msg.Sender),
		Fingerprint: detector.Fingerprint(msg.Sender, msg.Body, msg.Timestamp),
	}
	p, rejection := parser.Analyze(msg.Sender, msg.Body)
	d.Rejection = string(rejection)
	if rejection == parser.Accepted {
		d.Amount = p.Amount.StringFixed(2)
		d.Direction = string(p.Direction)
		d.Merchant = p.Merchant
	}
	return d
}

func main() {
	logger := logging.Setup(logging.DefaultConfig())

	var args Args
	arg.MustParse(&args)

	if err := run(context.Background(), args, logger); err != nil {
		logger.Error("dump failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args Args, logger *slog.Logger) error {
	cfg, err := config.Load(args.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := plugins.NewDefaultRegistry()
	if err != nil {
		return err
	}
	plugin, err := registry.GetSource(cfg.Source)
	if err != nil {
		return err
	}

	httpClient := http.DefaultClient
	if scopes := plugin.RequiredScopes(); len(scopes) > 0 {
		if httpClient, err = client.New(ctx, cfg.ClientSecretFile, cfg.TokenFile, scopes...); err != nil {
			return fmt.Errorf("creating http client: %w", err)
		}
	}

	src, err := plugin.NewSource(httpClient, cfg.SourceConfig, logger)
	if err != nil {
		return fmt.Errorf("creating %s source: %w", cfg.Source, err)
	}

	msgs, err := src.Messages(ctx, args.Limit)
	if err != nil {
		return fmt.Errorf("reading messages: %w", err)
	}

	if err := os.MkdirAll(args.Out, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	dumped := 0
	for _, msg := range msgs {
		d := analyze(msg)
		if args.RejectedOnly && d.Rejection == "" {
			continue
		}
		written, err := writeDump(args.Out, cfg.Source, d)
		if err != nil {
			logger.Warn("failed to dump message", "message_id", msg.ID, "error", err)
			continue
		}
		if written {
			dumped++
			logger.Info("dumped message", "sender", msg.Sender, "rejection", d.Rejection)
		}
	}

	logger.Info("sms dump complete", "read", len(msgs), "dumped", dumped, "directory", args.Out)
	return nil
}

// writeDump writes d unless a dump with the same name already exists.
func writeDump(dir, source string, d Dump) (bool, error) {
	when := time.UnixMilli(d.Message.Timestamp).UTC().Format("2006-01-02_150405")
	name := sanitizeFilename(fmt.Sprintf("%s_%s_%s_%s", source, when, d.Message.Sender, d.Fingerprint[:12])) + ".json"
	path := filepath.Join(dir, name)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing file: %w", err)
	}
	return true, nil
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
