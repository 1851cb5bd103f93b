// Package coordination provides a typed façade over Redis for the
// credential-pool scheduler: set/sorted-set/hash/counter primitives with
// TTL, plus an atomic pipeline helper. It is the single shared source of
// truth the scheduler's replicas read and write.
package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin wrapper around *redis.Client exposing exactly the
// primitives the scheduler's components need, named after what they do
// rather than after the underlying Redis command.
type Store struct {
	client *redis.Client
}

// New builds a Store from connection parameters.
func New(addr, password string, db int) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &Store{client: client}
}

// NewFromClient wraps an existing client, used by tests against miniredis.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity, used at startup and by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// SetAdd adds members to a Redis set.
func (s *Store) SetAdd(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, set, args...).Err()
}

// SetRemove removes members from a Redis set.
func (s *Store) SetRemove(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, set, args...).Err()
}

// SetPopRandom pops one random member from a set, reporting whether one existed.
func (s *Store) SetPopRandom(ctx context.Context, set string) (string, bool, error) {
	member, err := s.client.SPop(ctx, set).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return member, true, nil
}

// SetIsMember reports whether member is present in set.
func (s *Store) SetIsMember(ctx context.Context, set, member string) (bool, error) {
	return s.client.SIsMember(ctx, set, member).Result()
}

// SetMembers returns all members of a set.
func (s *Store) SetMembers(ctx context.Context, set string) ([]string, error) {
	return s.client.SMembers(ctx, set).Result()
}

// SortedSetAdd adds a single member with its score to a sorted set.
func (s *Store) SortedSetAdd(ctx context.Context, set, member string, score float64) error {
	return s.client.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err()
}

// SortedSetRangeByScore returns members whose score is <= max.
func (s *Store) SortedSetRangeByScore(ctx context.Context, set string, max float64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

// SortedSetRemove removes members from a sorted set.
func (s *Store) SortedSetRemove(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, set, args...).Err()
}

// HashGetAll reads every field of a hash key; returns an empty (non-nil)
// map if the key does not exist.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// HashSet writes fields of a hash key in one round-trip.
func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

// IncrWithTTL increments key and, only if this increment created the key
// (post-increment value is 1), applies ttl to it. Returns the post-increment
// value.
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Get reads a plain string key, reporting whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetWithTTL sets key to value with the given TTL (0 means no expiry).
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes one or more keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Pipeliner exposes the subset of redis.Pipeliner operations the
// scheduler needs inside an atomic transaction.
type Pipeliner interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Pipeline runs fn against a transactional pipeline and executes it
// atomically (Redis MULTI/EXEC): either every queued op applies or none do.
// This is the mechanism behind every cross-set membership transition in §3.
func (s *Store) Pipeline(ctx context.Context, fn func(p Pipeliner)) error {
	pipe := s.client.TxPipeline()
	fn(pipe)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}
