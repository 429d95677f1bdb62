package state

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	breakerKeyPrefix = "sportsync:breaker:failures:"
	budgetKeyPrefix  = "sportsync:budget:hourly:"

	// Buckets outlive the hour they cover so a late reader still sees them.
	budgetKeyTTL = 2 * time.Hour
)

// RedisStore shares breaker/cost state between instances through Redis.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// RedisConfig holds connection settings for the shared store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		now: time.Now,
	}
}

// hourBucket keys hourly spend by UTC hour so instances share a ceiling
// without clock coordination.
func (s *RedisStore) hourBucket() string {
	return budgetKeyPrefix + s.now().UTC().Format("2006010215")
}

func (s *RedisStore) GetFailures(ctx context.Context, vendor string) (int, error) {
	n, err := s.client.Get(ctx, breakerKeyPrefix+vendor).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) SetFailures(ctx context.Context, vendor string, failures int) error {
	return s.client.Set(ctx, breakerKeyPrefix+vendor, failures, budgetKeyTTL).Err()
}

func (s *RedisStore) GetHourlyCost(ctx context.Context) (float64, error) {
	cost, err := s.client.Get(ctx, s.hourBucket()).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return cost, err
}

func (s *RedisStore) IncrHourlyCost(ctx context.Context, delta float64) error {
	key := s.hourBucket()
	pipe := s.client.Pipeline()
	pipe.IncrByFloat(ctx, key, delta)
	pipe.Expire(ctx, key, budgetKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
