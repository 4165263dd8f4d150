package provider

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// Notifier abstracts delivery to the recipient's chat. A nil error means the
// channel acknowledged the message. Mocking this interface in tests gives full
// control over delivery without real HTTP calls.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, message string) error
}

// Message is the content of one notification. SourceName and Title come
// from the item being delivered, not from the cached record, so every
// recipient sees their own subscription's naming.
type Message struct {
	SourceName string
	Title      string
	Artifacts  domain.Artifacts
}

// NewMessage personalizes a processed record for item.
func NewMessage(item domain.Item, rec *domain.ProcessedRecord) Message {
	m := Message{
		SourceName: item.SourceName,
		Title:      item.Title,
		Artifacts:  rec.Artifacts,
	}
	if m.SourceName == "" {
		m.SourceName = rec.SourceName
	}
	if m.Title == "" {
		m.Title = rec.Title
	}
	return m
}

// HTML renders the message for Telegram's HTML parse mode.
func (m Message) HTML() string {
	var b strings.Builder
	if m.SourceName != "" {
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(m.SourceName))
	}
	fmt.Fprintf(&b, "<u>%s</u>\n", html.EscapeString(m.Title))
	if m.Artifacts.TranscriptURL != "" {
		fmt.Fprintf(&b, "👉<a href=\"%s\">subtitle</a> ", html.EscapeString(m.Artifacts.TranscriptURL))
	}
	if m.Artifacts.FullTextURL != "" {
		fmt.Fprintf(&b, "👉<a href=\"%s\">fulltext</a>", html.EscapeString(m.Artifacts.FullTextURL))
	}
	b.WriteString("\n")
	b.WriteString(html.EscapeString(m.Artifacts.Summary))
	return b.String()
}
