package domain

import (
	"strings"
	"time"
)

// User is a notification recipient. ID is the chat id on the notification channel.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Source is one user's subscription to a feed. Several users may subscribe to
// the same Key; they then share a single queue in the queue store.
//
// Watermark is the newest published time already handled for this
// subscription. It never moves backwards and only the dispatcher advances it.
type Source struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Key       QueueKey  `json:"key"`
	Name      string    `json:"name"`
	Watermark time.Time `json:"watermark"`
	CreatedAt time.Time `json:"created_at"`
}

// AddSourceRequest registers a new subscription.
type AddSourceRequest struct {
	UserName string `json:"user_name"`
	Key      string `json:"key"`
	Name     string `json:"name"`
}

func (r *AddSourceRequest) Validate() error {
	if !QueueKey(strings.TrimSpace(r.Key)).Valid() {
		return ErrInvalidSourceKey
	}
	return nil
}
