package repository

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	presencePrefix = "presence:"
	ledgerPrefix   = "ledger:"
	unreadPrefix   = "unread:"
)

// RedisRepository keeps the shared fast-access state in Redis: presence
// session sets, the dedup ledgers and unread counters.
type RedisRepository struct {
	client      *redis.Client
	presenceTTL time.Duration
	ledgerTTL   time.Duration
}

// NewRedisRepository wires the repository. A zero presenceTTL keeps presence
// sets until their last session is removed; a zero ledgerTTL keeps ledger
// keys until the next sweep.
func NewRedisRepository(client *redis.Client, presenceTTL, ledgerTTL time.Duration) *RedisRepository {
	return &RedisRepository{
		client:      client,
		presenceTTL: presenceTTL,
		ledgerTTL:   ledgerTTL,
	}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// AddSession adds sessionID to the user's set and reports whether it was the
// user's first live session.
func (r *RedisRepository) AddSession(ctx context.Context, userID, sessionID string) (bool, error) {
	key := presencePrefix + userID
	pipe := r.client.TxPipeline()
	added := pipe.SAdd(ctx, key, sessionID)
	card := pipe.SCard(ctx, key)
	if r.presenceTTL > 0 {
		pipe.Expire(ctx, key, r.presenceTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return added.Val() == 1 && card.Val() == 1, nil
}

// RemoveSession removes sessionID and reports whether the user has no live
// sessions left. Redis drops the set together with its last member.
func (r *RedisRepository) RemoveSession(ctx context.Context, userID, sessionID string) (bool, error) {
	key := presencePrefix + userID
	pipe := r.client.TxPipeline()
	removed := pipe.SRem(ctx, key, sessionID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return removed.Val() == 1 && card.Val() == 0, nil
}

func (r *RedisRepository) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.SCard(ctx, presencePrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRepository) SessionsOf(ctx context.Context, userID string) ([]string, error) {
	return r.client.SMembers(ctx, presencePrefix+userID).Result()
}

// Touch extends the presence record's TTL on heartbeat.
func (r *RedisRepository) Touch(ctx context.Context, userID string) error {
	if r.presenceTTL <= 0 {
		return nil
	}
	return r.client.Expire(ctx, presencePrefix+userID, r.presenceTTL).Err()
}

// InsertIfAbsent records key and reports whether this call created it.
func (r *RedisRepository) InsertIfAbsent(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, ledgerPrefix+key, "1", r.ledgerTTL).Result()
}

func (r *RedisRepository) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, ledgerPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClearPrefix deletes the ledger keys starting with prefix that match accepts.
func (r *RedisRepository) ClearPrefix(ctx context.Context, prefix string, match func(string) bool) (int, error) {
	var (
		cursor  uint64
		cleared int
	)
	for {
		found, next, err := r.client.Scan(ctx, cursor, ledgerPrefix+prefix+"*", 500).Result()
		if err != nil {
			return cleared, err
		}
		keys := found[:0]
		for _, k := range found {
			if match == nil || match(strings.TrimPrefix(k, ledgerPrefix)) {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return cleared, err
			}
			cleared += int(n)
		}
		cursor = next
		if cursor == 0 {
			return cleared, nil
		}
	}
}

func (r *RedisRepository) IncrUnread(ctx context.Context, userID string) (int64, error) {
	return r.client.Incr(ctx, unreadPrefix+userID).Result()
}

func (r *RedisRepository) ResetUnread(ctx context.Context, userID string) error {
	return r.client.Del(ctx, unreadPrefix+userID).Err()
}

func (r *RedisRepository) Unread(ctx context.Context, userID string) (int64, error) {
	n, err := r.client.Get(ctx, unreadPrefix+userID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
