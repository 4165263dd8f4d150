package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// ErrCorruptEntry is returned by Pop when an entry was removed from the queue
// but its payload could not be decoded. The entry is gone either way.
var ErrCorruptEntry = errors.New("corrupt queue entry")

// Store is the shared queue store: a durable mapping from queue key to an
// ordered list of items, one key per source plus domain.PriorityKey.
//
// Append and Pop are the only mutations the worker loops use. Both are atomic
// per key, so the poller may append to a key while the dispatcher drains it.
// Replace and Delete exist for the registration surface.
type Store interface {
	Keys(ctx context.Context) ([]domain.QueueKey, error)
	Snapshot(ctx context.Context) (map[domain.QueueKey][]domain.Item, error)
	Items(ctx context.Context, key domain.QueueKey) ([]domain.Item, error)
	Exists(ctx context.Context, key domain.QueueKey) (bool, error)
	Len(ctx context.Context, key domain.QueueKey) (int, error)

	// Append adds items to the tail of key in order. Calling it with no items
	// registers the key without content.
	Append(ctx context.Context, key domain.QueueKey, items ...domain.Item) error
	// Pop removes and returns the head of key. ok is false when key is empty.
	Pop(ctx context.Context, key domain.QueueKey) (item domain.Item, ok bool, err error)
	// Replace atomically swaps the whole content of key.
	Replace(ctx context.Context, key domain.QueueKey, items []domain.Item) error
	Delete(ctx context.Context, key domain.QueueKey) error

	Close() error
}

// Depths returns the number of buffered items per key.
func Depths(ctx context.Context, s Store) (map[domain.QueueKey]int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	depths := make(map[domain.QueueKey]int, len(keys))
	for _, k := range keys {
		n, err := s.Len(ctx, k)
		if err != nil {
			return nil, err
		}
		depths[k] = n
	}
	return depths, nil
}

func encodeItem(item domain.Item) ([]byte, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", item.Link, err)
	}
	return b, nil
}

func decodeItem(b []byte) (domain.Item, error) {
	var item domain.Item
	if err := json.Unmarshal(b, &item); err != nil {
		return domain.Item{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return item, nil
}

func decodeItems(payloads [][]byte) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(payloads))
	for _, p := range payloads {
		item, err := decodeItem(p)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// unavailable tags a backend failure so callers can tell store outages apart
// from item-level errors.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func sortKeys(keys []domain.QueueKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
