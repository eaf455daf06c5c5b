package liveness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the namespace for liveness entries. It must stay stable:
// external reconcilers parse device IDs back out of expired keys.
const KeyPrefix = "presence:"

// onlineValue is the payload stored under a liveness key. The value itself
// carries no information; the key's existence is the online signal.
const onlineValue = "Online"

// Key returns the liveness key for a device.
func Key(deviceID string) string {
	return KeyPrefix + deviceID
}

// DeviceIDFromKey extracts the device ID from a liveness key. The prefix is
// stripped rather than split on ':' so device IDs containing the delimiter
// round-trip correctly. Returns false for keys outside the presence
// namespace.
func DeviceIDFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ExpirySubscription delivers the keys of expired liveness entries. The
// channel closes when the underlying notification stream is lost or the
// subscription is closed.
type ExpirySubscription interface {
	Keys() <-chan string
	Close() error
}

// Store defines the liveness operations used by the presence services.
type Store interface {
	// Refresh creates or renews the liveness entry for a device. The entry
	// is only ever removed by the store's own expiry mechanism.
	Refresh(ctx context.Context, deviceID string, ttl time.Duration) error
	// IsAlive reports whether a non-expired liveness entry exists.
	IsAlive(ctx context.Context, deviceID string) (bool, error)
	// SubscribeExpired opens a stream of expired liveness keys.
	SubscribeExpired(ctx context.Context) (ExpirySubscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore implements Store on a Redis database, using key TTLs as the
// liveness clock and keyevent notifications as the expiry stream.
type RedisStore struct {
	client *redis.Client
	db     int
}

// NewRedisStore creates a RedisStore. The connection is established lazily;
// use Ping to probe readiness.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{client: client, db: db}
}

// Refresh sets the liveness entry with the configured TTL. Last write wins;
// concurrent refreshes for the same device simply renew the entry.
func (s *RedisStore) Refresh(ctx context.Context, deviceID string, ttl time.Duration) error {
	if deviceID == "" {
		return errors.New("device id is empty")
	}
	return s.client.Set(ctx, Key(deviceID), onlineValue, ttl).Err()
}

// IsAlive reports whether the device's liveness entry exists.
func (s *RedisStore) IsAlive(ctx context.Context, deviceID string) (bool, error) {
	n, err := s.client.Exists(ctx, Key(deviceID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SubscribeExpired subscribes to the database's expired-keyevent channel.
// Keyevent notifications for expiries ("Ex") are enabled on every call so a
// resubscribe after a Redis restart restores the server-side setting too.
func (s *RedisStore) SubscribeExpired(ctx context.Context) (ExpirySubscription, error) {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return nil, fmt.Errorf("enable keyspace notifications: %w", err)
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", s.db)
	pubsub := s.client.Subscribe(ctx, channel)

	// Force the subscribe round trip so a dead connection fails here
	// instead of silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisExpirySubscription{pubsub: pubsub, keys: make(chan string)}
	go sub.forward()

	return sub, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisExpirySubscription struct {
	pubsub *redis.PubSub
	keys   chan string
}

func (r *redisExpirySubscription) forward() {
	defer close(r.keys)
	for msg := range r.pubsub.Channel() {
		r.keys <- msg.Payload
	}
}

func (r *redisExpirySubscription) Keys() <-chan string {
	return r.keys
}

func (r *redisExpirySubscription) Close() error {
	return r.pubsub.Close()
}
