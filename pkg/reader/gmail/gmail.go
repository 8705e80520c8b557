// Package gmail implements a message source over notifications forwarded to
// a Gmail mailbox.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

// Where the sender code of a forwarded message is read from.
const (
	SenderFromSubject = "subject"
	SenderFromName    = "from"
)

// DefaultQuery matches messages forwarded by SMS forwarding apps.
const DefaultQuery = "label:sms"

// Config holds configuration for the Gmail source.
type Config struct {
	// Query is the Gmail search query selecting forwarded notifications.
	Query string
	// SenderFrom selects the header carrying the original sender code.
	// Defaults to SenderFromSubject.
	SenderFrom string
	// Endpoint overrides the Gmail API base URL.
	Endpoint string
}

// Source reads forwarded notifications from Gmail.
type Source struct {
	client     *gmail.Service
	query      string
	senderFrom string
	logger     *slog.Logger
}

// New creates a Gmail source.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := gmail.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	query := cfg.Query
	if query == "" {
		query = DefaultQuery
	}
	senderFrom := cfg.SenderFrom
	if senderFrom == "" {
		senderFrom = SenderFromSubject
	}

	return &Source{
		client:     client,
		query:      query,
		senderFrom: senderFrom,
		logger:     logger,
	}, nil
}

// Messages returns up to limit of the newest matching messages. Messages that
// cannot be fetched are logged and skipped.
func (s *Source) Messages(ctx context.Context, limit int) ([]api.Message, error) {
	resp, err := s.client.Users.Messages.List("me").Q(s.query).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	s.logger.Debug("found messages", "count", len(resp.Messages), "query", s.query)

	out := make([]api.Message, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		msg, err := s.client.Users.Messages.Get("me", ref.Id).Context(ctx).Do()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.logger.Warn("failed to fetch message", "message_id", ref.Id, "error", err)
			continue
		}

		body := extractBody(msg)
		if body == "" {
			s.logger.Warn("empty message body", "message_id", ref.Id)
			continue
		}
		out = append(out, api.Message{
			ID:        msg.Id,
			Sender:    s.sender(msg),
			Body:      body,
			Timestamp: msg.InternalDate,
		})
	}
	return out, nil
}

func (s *Source) sender(msg *gmail.Message) string {
	switch s.senderFrom {
	case SenderFromName:
		return senderFromAddress(header(msg, "From"))
	default:
		return strings.TrimSpace(header(msg, "Subject"))
	}
}

func header(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// senderFromAddress returns the display name of an address, or its local
// part when there is none.
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

// extractBody prefers a text/plain part, then the top-level body.
func extractBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	for _, part := range msg.Payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil {
			if body, ok := decode(part.Body.Data); ok {
				return body
			}
		}
	}
	if msg.Payload.Body != nil {
		if body, ok := decode(msg.Payload.Body.Data); ok {
			return body
		}
	}
	return ""
}

func decode(data string) (string, bool) {
	if data == "" {
		return "", false
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", false
		}
	}
	return strings.TrimSpace(string(b)), true
}
