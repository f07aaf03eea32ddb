package pendingstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/redis/go-redis/v9"
)

// clearIfOrderScript deletes the key only while its value still names the order
var clearIfOrderScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local ok, record = pcall(cjson.decode, raw)
if ok and record["orderNo"] == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// RedisBackend stores each slot as a JSON string key
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend creates a backend. ttl bounds how long an abandoned record
// lingers; zero keeps records until cleared.
func NewRedisBackend(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

// ForUser implements ports.PendingStoreFactory
func (b *RedisBackend) ForUser(userID string) ports.PendingPaymentStore {
	return &redisStore{backend: b, key: b.prefix + SlotKey(userID)}
}

type redisStore struct {
	backend *RedisBackend
	key     string
}

func (s *redisStore) Write(ctx context.Context, record domain.PendingPaymentRecord) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	if err := s.backend.client.Set(ctx, s.key, data, s.backend.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write pending record: %w", err)
	}
	return nil
}

func (s *redisStore) Read(ctx context.Context) (*domain.PendingPaymentRecord, error) {
	data, err := s.backend.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending record: %w", err)
	}
	return Decode(data)
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.backend.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear pending record: %w", err)
	}
	return nil
}

func (s *redisStore) ClearIfOrder(ctx context.Context, orderNo string) (bool, error) {
	n, err := clearIfOrderScript.Run(ctx, s.backend.client, []string{s.key}, orderNo).Int()
	if err != nil {
		return false, fmt.Errorf("failed to clear pending record: %w", err)
	}
	return n == 1, nil
}
