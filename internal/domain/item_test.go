package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/feeddigest/internal/domain"
)

func TestSubmitRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.SubmitRequest
		wantErr error
	}{
		{"valid", domain.SubmitRequest{RecipientID: 1, Link: "https://youtu.be/abc"}, nil},
		{"zero recipient", domain.SubmitRequest{Link: "https://youtu.be/abc"}, domain.ErrInvalidRecipient},
		{"relative link", domain.SubmitRequest{RecipientID: 1, Link: "/watch?v=abc"}, domain.ErrInvalidLink},
		{"ftp link", domain.SubmitRequest{RecipientID: 1, Link: "ftp://host/file"}, domain.ErrInvalidLink},
		{"long title", domain.SubmitRequest{RecipientID: 1, Link: "https://x.io", Title: strings.Repeat("a", 513)}, domain.ErrInvalidTitle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSubmitRequestItemDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	req := domain.SubmitRequest{RecipientID: 9, Link: " https://youtu.be/abc "}
	item := req.Item(now)

	if item.Link != "https://youtu.be/abc" {
		t.Errorf("expected trimmed link, got %q", item.Link)
	}
	if item.Title != "https://youtu.be/abc" {
		t.Errorf("expected title to default to the link, got %q", item.Title)
	}
	if item.SourceKey == "" {
		t.Error("expected a source key")
	}
	if !item.PublishedAt.Equal(now) || item.RecipientID != 9 {
		t.Errorf("unexpected item %+v", item)
	}
}

func TestQueueKeyValid(t *testing.T) {
	tests := []struct {
		key  domain.QueueKey
		want bool
	}{
		{"youtube/channel/UC1", true},
		{"", false},
		{"   ", false},
		{domain.PriorityKey, false},
	}
	for _, tc := range tests {
		if got := tc.key.Valid(); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.key, tc.want, got)
		}
	}
}

func TestAddSourceRequestValidate(t *testing.T) {
	ok := domain.AddSourceRequest{Key: "youtube/channel/UC1"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := domain.AddSourceRequest{Key: string(domain.PriorityKey)}
	if err := bad.Validate(); !errors.Is(err, domain.ErrInvalidSourceKey) {
		t.Fatalf("expected ErrInvalidSourceKey, got %v", err)
	}
}
