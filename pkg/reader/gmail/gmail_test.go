package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *gmail.Message
		want string
	}{
		{
			name: "plain part preferred",
			msg: &gmail.Message{Payload: &gmail.MessagePart{
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<p>html</p>")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("Rs.500 debited\n")}},
				},
			}},
			want: "Rs.500 debited",
		},
		{
			name: "top level body",
			msg: &gmail.Message{Payload: &gmail.MessagePart{
				Body: &gmail.MessagePartBody{Data: encode("INR 20 credited")},
			}},
			want: "INR 20 credited",
		},
		{
			name: "unpadded body",
			msg: &gmail.Message{Payload: &gmail.MessagePart{
				Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("Rs.1"))},
			}},
			want: "Rs.1",
		},
		{
			name: "no payload",
			msg:  &gmail.Message{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBody(tt.msg); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSenderFromAddress(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{`"VM-HDFCBK" <forwarder@example.com>`, "VM-HDFCBK"},
		{"hdfcbk@sms.example.com", "hdfcbk"},
		{"not an address", "not an address"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			if got := senderFromAddress(tt.from); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("maxResults"); got != "2" {
			t.Errorf("maxResults: got %q, want 2", got)
		}
		_ = json.NewEncoder(w).Encode(gmail.ListMessagesResponse{
			Messages: []*gmail.Message{{Id: "m2"}, {Id: "m1"}, {Id: "gone"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		if id == "gone" {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(gmail.Message{
			Id:           id,
			InternalDate: 1718452800000,
			Payload: &gmail.MessagePart{
				Headers: []*gmail.MessagePartHeader{{Name: "Subject", Value: " HDFCBK "}},
				Body:    &gmail.MessagePartBody{Data: encode("Rs.450 debited at Swiggy " + id)},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src, err := New(srv.Client(), Config{Endpoint: srv.URL + "/"}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msgs, err := src.Messages(context.Background(), 2)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m2" || msgs[0].Sender != "HDFCBK" || msgs[0].Timestamp != 1718452800000 {
		t.Errorf("first message: got %+v", msgs[0])
	}
	if msgs[1].Body != "Rs.450 debited at Swiggy m1" {
		t.Errorf("body: got %q", msgs[1].Body)
	}
}
