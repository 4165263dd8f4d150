package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// RedisStore keeps each queue in a native Redis list and the set of known keys
// in a Redis set. RPUSH and LPOP are atomic, so appends from the poller and
// pops from the dispatcher on the same key never race.
//
//	<pool>:keys        SET  of queue keys
//	<pool>:q:<key>     LIST of JSON-encoded items, head = oldest
type RedisStore struct {
	client *redis.Client
	pool   string
}

func NewRedisStore(client *redis.Client, pool string) *RedisStore {
	return &RedisStore{client: client, pool: pool}
}

// OpenRedis parses a redis:// or rediss:// URL and verifies connectivity.
func OpenRedis(ctx context.Context, dsn, pool string) (*RedisStore, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}
	return NewRedisStore(client, pool), nil
}

func (s *RedisStore) keysKey() string { return s.pool + ":keys" }

func (s *RedisStore) listKey(key domain.QueueKey) string { return s.pool + ":q:" + string(key) }

func (s *RedisStore) Keys(ctx context.Context) ([]domain.QueueKey, error) {
	members, err := s.client.SMembers(ctx, s.keysKey()).Result()
	if err != nil {
		return nil, unavailable("redis smembers", err)
	}
	keys := make([]domain.QueueKey, len(members))
	for i, m := range members {
		keys[i] = domain.QueueKey(m)
	}
	sortKeys(keys)
	return keys, nil
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[domain.QueueKey][]domain.Item, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.LRange(ctx, s.listKey(k), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("redis snapshot", err)
	}

	out := make(map[domain.QueueKey][]domain.Item, len(keys))
	for i, k := range keys {
		items, err := decodeStrings(cmds[i].Val())
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", k, err)
		}
		out[k] = items
	}
	return out, nil
}

func (s *RedisStore) Items(ctx context.Context, key domain.QueueKey) ([]domain.Item, error) {
	raw, err := s.client.LRange(ctx, s.listKey(key), 0, -1).Result()
	if err != nil {
		return nil, unavailable("redis lrange", err)
	}
	return decodeStrings(raw)
}

func (s *RedisStore) Exists(ctx context.Context, key domain.QueueKey) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.keysKey(), string(key)).Result()
	if err != nil {
		return false, unavailable("redis sismember", err)
	}
	return ok, nil
}

func (s *RedisStore) Len(ctx context.Context, key domain.QueueKey) (int, error) {
	n, err := s.client.LLen(ctx, s.listKey(key)).Result()
	if err != nil {
		return 0, unavailable("redis llen", err)
	}
	return int(n), nil
}

func (s *RedisStore) Append(ctx context.Context, key domain.QueueKey, items ...domain.Item) error {
	values, err := encodeValues(items)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(values) > 0 {
			p.RPush(ctx, s.listKey(key), values...)
		}
		p.SAdd(ctx, s.keysKey(), string(key))
		return nil
	})
	if err != nil {
		return unavailable("redis append", err)
	}
	return nil
}

func (s *RedisStore) Pop(ctx context.Context, key domain.QueueKey) (domain.Item, bool, error) {
	raw, err := s.client.LPop(ctx, s.listKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, unavailable("redis lpop", err)
	}
	item, err := decodeItem([]byte(raw))
	if err != nil {
		return domain.Item{}, true, err
	}
	return item, true, nil
}

func (s *RedisStore) Replace(ctx context.Context, key domain.QueueKey, items []domain.Item) error {
	values, err := encodeValues(items)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.listKey(key))
		if len(values) > 0 {
			p.RPush(ctx, s.listKey(key), values...)
		}
		p.SAdd(ctx, s.keysKey(), string(key))
		return nil
	})
	if err != nil {
		return unavailable("redis replace", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key domain.QueueKey) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.listKey(key))
		p.SRem(ctx, s.keysKey(), string(key))
		return nil
	})
	if err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func encodeValues(items []domain.Item) ([]any, error) {
	values := make([]any, 0, len(items))
	for _, item := range items {
		b, err := encodeItem(item)
		if err != nil {
			return nil, err
		}
		values = append(values, string(b))
	}
	return values, nil
}

func decodeStrings(raw []string) ([]domain.Item, error) {
	payloads := make([][]byte, len(raw))
	for i, r := range raw {
		payloads[i] = []byte(r)
	}
	return decodeItems(payloads)
}

// compile-time check that RedisStore implements Store
var _ Store = (*RedisStore)(nil)
