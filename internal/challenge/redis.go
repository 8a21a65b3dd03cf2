package challenge

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps challenges in Redis so any API instance can consume a
// challenge issued by another. Expiry is delegated to the key TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a store whose keys are prefix + subject.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "attendance:challenge:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, subject string, challenge []byte, ttl time.Duration) error {
	return errors.Wrap(s.client.Set(ctx, s.prefix+subject, challenge, ttl).Err(), "store challenge")
}

// Take uses GETDEL so two concurrent consumers cannot both read the value.
func (s *RedisStore) Take(ctx context.Context, subject string) ([]byte, error) {
	b, err := s.client.GetDel(ctx, s.prefix+subject).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "take challenge")
	}
	return b, nil
}
