// Package mbox implements a message source over an mbox file of forwarded
// or exported notifications.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// Where the sender code of a message is read from.
const (
	SenderFromSubject = "subject"
	SenderFromName    = "from"
)

// Config holds configuration for the mbox source.
type Config struct {
	// Path is the mbox file.
	Path string
	// SenderFrom selects the header carrying the original sender code.
	// Defaults to SenderFromSubject.
	SenderFrom string
	// PollInterval is how often Listen checks the file. Defaults to 5 seconds.
	PollInterval time.Duration
}

// Source reads messages from an mbox file.
type Source struct {
	path         string
	senderFrom   string
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates an mbox source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, errors.New("mbox path is required")
	}
	senderFrom := cfg.SenderFrom
	if senderFrom == "" {
		senderFrom = SenderFromSubject
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Source{
		path:         cfg.Path,
		senderFrom:   senderFrom,
		pollInterval: poll,
		logger:       logger,
	}, nil
}

// Messages returns up to limit of the newest messages in the file.
func (s *Source) Messages(ctx context.Context, limit int) ([]api.Message, error) {
	msgs, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// Listen pushes messages newer than any seen before as the file grows. It
// blocks until ctx is canceled.
func (s *Source) Listen(ctx context.Context, out chan<- api.Message) error {
	var (
		lastMod  time.Time
		lastSeen int64
	)
	if msgs, err := s.readAll(ctx); err == nil && len(msgs) > 0 {
		lastSeen = msgs[0].Timestamp
	}
	if info, err := os.Stat(s.path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info, err := os.Stat(s.path)
		if err != nil {
			s.logger.Warn("failed to stat mbox", "path", s.path, "error", err)
			continue
		}
		if !info.ModTime().After(lastMod) {
			continue
		}
		lastMod = info.ModTime()

		msgs, err := s.readAll(ctx)
		if err != nil {
			s.logger.Warn("failed to read mbox", "path", s.path, "error", err)
			continue
		}

		// msgs is newest first; push oldest first.
		newest := lastSeen
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Timestamp <= lastSeen {
				continue
			}
			select {
			case out <- msgs[i]:
			case <-ctx.Done():
				return ctx.Err()
			}
			if msgs[i].Timestamp > newest {
				newest = msgs[i].Timestamp
			}
		}
		lastSeen = newest
	}
}

// readAll parses every message in the file, newest first.
func (s *Source) readAll(ctx context.Context) ([]api.Message, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	var msgs []api.Message
	r := mbox.NewReader(f)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading mbox message %d: %w", i, err)
		}

		msg, err := s.parse(raw)
		if err != nil {
			s.logger.Warn("skipping unparsable message", "index", i, "error", err)
			continue
		}
		msg.ID = fmt.Sprintf("%d", i)
		msgs = append(msgs, msg)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp > msgs[j].Timestamp
	})
	return msgs, nil
}

func (s *Source) parse(raw io.Reader) (api.Message, error) {
	m, err := mail.ReadMessage(raw)
	if err != nil {
		return api.Message{}, fmt.Errorf("parsing message: %w", err)
	}

	var body io.Reader = m.Body
	if strings.EqualFold(m.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		body = quotedprintable.NewReader(m.Body)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return api.Message{}, fmt.Errorf("reading body: %w", err)
	}

	date, err := m.Header.Date()
	if err != nil {
		return api.Message{}, fmt.Errorf("parsing date: %w", err)
	}

	sender := strings.TrimSpace(m.Header.Get("Subject"))
	if s.senderFrom == SenderFromName {
		sender = senderFromAddress(m.Header.Get("From"))
	}

	return api.Message{
		Sender:    sender,
		Body:      strings.TrimSpace(string(b)),
		Timestamp: date.UnixMilli(),
	}, nil
}

func senderFromAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from)
	}
	if addr.Name != "" {
		return addr.Name
	}
	local, _, _ := strings.Cut(addr.Address, "@")
	return local
}
