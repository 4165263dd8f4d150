package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/provider"
)

func TestTelegramNotifierSend(t *testing.T) {
	var got struct {
		ChatID    int64  `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	n := provider.NewTelegramNotifier(srv.URL+"/", "TOKEN", time.Second)
	if err := n.Send(context.Background(), 42, "<b>hi</b>"); err != nil {
		t.Fatal(err)
	}
	if got.ChatID != 42 || got.Text != "<b>hi</b>" || got.ParseMode != "HTML" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestTelegramNotifierErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-200", http.StatusTooManyRequests, `{"ok":false,"description":"Too Many Requests"}`},
		{"not ok", http.StatusOK, `{"ok":false,"description":"chat not found"}`},
		{"garbage", http.StatusOK, `<html>`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body)) //nolint:errcheck
			}))
			defer srv.Close()

			n := provider.NewTelegramNotifier(srv.URL, "TOKEN", time.Second)
			if err := n.Send(context.Background(), 1, "x"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMessagePersonalization(t *testing.T) {
	rec := &domain.ProcessedRecord{
		Link:       "https://youtu.be/abc",
		Title:      "Owner's title",
		SourceName: "Owner's channel",
		OwnerID:    1,
		Artifacts: domain.Artifacts{
			TranscriptURL: "https://telegra.ph/t",
			FullTextURL:   "https://telegra.ph/f",
			Summary:       "a < b",
		},
	}
	item := domain.Item{SourceName: "My <feed>", Title: "My title", RecipientID: 2}

	out := provider.NewMessage(item, rec).HTML()
	for _, want := range []string{
		"<b>My &lt;feed&gt;</b>",
		"<u>My title</u>",
		`href="https://telegra.ph/t"`,
		`href="https://telegra.ph/f"`,
		"a &lt; b",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "Owner's") {
		t.Errorf("message must use the recipient's naming: %q", out)
	}

	fallback := provider.NewMessage(domain.Item{}, rec).HTML()
	if !strings.Contains(fallback, "Owner&#39;s title") {
		t.Errorf("expected record title as fallback, got %q", fallback)
	}
}
