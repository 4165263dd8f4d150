package domain

import (
	"net/url"
	"strings"
	"time"
)

// QueueKey identifies one queue in the shared queue store. Every source key
// maps to its own queue; PriorityKey is reserved for direct submissions.
type QueueKey string

// PriorityKey is the reserved lane drained before any source queue.
const PriorityKey QueueKey = "priority_queue"

func (k QueueKey) IsPriority() bool { return k == PriorityKey }

// Valid reports whether k can name a source queue.
func (k QueueKey) Valid() bool {
	return strings.TrimSpace(string(k)) != "" && !k.IsPriority()
}

func (k QueueKey) String() string { return string(k) }

// Item is a candidate discovered by the poller or submitted directly.
// Link is the idempotency key for the whole pipeline. Items are immutable once
// queued and are consumed destructively by the dispatcher.
type Item struct {
	SourceKey   QueueKey  `json:"source_key"`
	SourceName  string    `json:"source_name"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	RecipientID int64     `json:"recipient_id"`
}

// SubmitRequest is the inbound payload for a priority-lane submission.
type SubmitRequest struct {
	RecipientID int64  `json:"recipient_id"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	SourceName  string `json:"source_name"`
	SourceKey   string `json:"source_key"`
}

func (r *SubmitRequest) Validate() error {
	if r.RecipientID <= 0 {
		return ErrInvalidRecipient
	}
	if !validLink(r.Link) {
		return ErrInvalidLink
	}
	if len(r.Title) > 512 {
		return ErrInvalidTitle
	}
	return nil
}

// Item converts the request into a priority-lane item stamped with now.
func (r *SubmitRequest) Item(now time.Time) Item {
	link := strings.TrimSpace(r.Link)
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = link
	}
	key := QueueKey(strings.TrimSpace(r.SourceKey))
	if key == "" {
		key = QueueKey(link)
	}
	return Item{
		SourceKey:   key,
		SourceName:  strings.TrimSpace(r.SourceName),
		Title:       title,
		Link:        link,
		PublishedAt: now.UTC(),
		RecipientID: r.RecipientID,
	}
}

func validLink(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
