package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ngalluzzo/gooi-sub004/internal/ir"
)

// redisSaveScript writes a record only if no live record exists.
// KEYS[1] = record key
// ARGV[1] = record JSON
// ARGV[2] = record createdAt (unix millis)
// ARGV[3] = ttl (millis)
var redisSaveScript = redis.NewScript(`
local key = KEYS[1]
local created = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local expires = tonumber(redis.call("HGET", key, "expires_at"))
if expires and expires > created then
    return 0
end

redis.call("HSET", key, "record", ARGV[1], "expires_at", created + ttl)
redis.call("PEXPIRE", key, ttl)
return 1
`)

// redisUnlockScript deletes a lock only if the caller still owns it.
// KEYS[1] = lock key
// ARGV[1] = owner token
var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is a replay store shared across processes. Saves are atomic
// conditional puts; scope locks are SET NX PX tokens released by
// compare-and-delete.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	lockTTL     time.Duration
	lockBackoff time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key (default "gooi:idem:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithLockTTL bounds how long a crashed holder can block a scope.
func WithLockTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.lockTTL = d }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:      client,
		prefix:      "gooi:idem:",
		lockTTL:     30 * time.Second,
		lockBackoff: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisStore(client, opts...), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(scopeKey string) string { return s.prefix + "rec:" + scopeKey }
func (s *RedisStore) lockKey(scopeKey string) string   { return s.prefix + "lock:" + scopeKey }

func (s *RedisStore) Load(ctx context.Context, scopeKey string) (*Record, error) {
	data, err := s.client.HGet(ctx, s.recordKey(scopeKey), "record").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", scopeKey, err)
	}
	return DecodeRecord(data)
}

func (s *RedisStore) Save(ctx context.Context, scopeKey string, rec Record) error {
	created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("redis save %s: createdAt: %w", scopeKey, err)
	}
	if err := ValidateTTL(rec.TTLSeconds); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis save %s: %w", scopeKey, err)
	}

	res, err := redisSaveScript.Run(ctx, s.client, []string{s.recordKey(scopeKey)},
		data, created.UnixMilli(), rec.TTLSeconds*1000).Int64()
	if err != nil {
		return fmt.Errorf("redis save %s: %w", scopeKey, err)
	}
	if res == 0 {
		return ErrScopeTaken
	}
	return nil
}

func (s *RedisStore) LockScope(ctx context.Context, scopeKey string) (func(), error) {
	key := s.lockKey(scopeKey)
	token := uuid.NewString()
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", scopeKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.lockBackoff):
		}
	}
	return func() {
		// Released on a fresh context: the caller's may already be cancelled.
		_ = redisUnlockScript.Run(context.Background(), s.client, []string{key}, token).Err()
	}, nil
}

// DecodeRecord decodes a record from its JSON form, keeping envelope
// numbers exact.
func DecodeRecord(data []byte) (*Record, error) {
	var raw struct {
		InputHash      string          `json:"inputHash"`
		ResultEnvelope json.RawMessage `json:"resultEnvelope"`
		CreatedAt      string          `json:"createdAt"`
		TTLSeconds     int64           `json:"ttlSeconds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec := &Record{InputHash: raw.InputHash, CreatedAt: raw.CreatedAt, TTLSeconds: raw.TTLSeconds}
	if len(raw.ResultEnvelope) > 0 && string(raw.ResultEnvelope) != "null" {
		env, err := ir.ParseEnvelope(raw.ResultEnvelope)
		if err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		rec.ResultEnvelope = env
	}
	return rec, nil
}
