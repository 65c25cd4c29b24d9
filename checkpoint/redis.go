package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "mimicrl:checkpoint"

// RedisStore keeps the checkpoint under one redis key, for runs that are
// observed or resumed from another machine. A SET is atomic on the server, so
// readers never see a torn checkpoint.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// OpenRedis connects to a redis:// URL. The slot key is taken from a "key"
// query parameter, defaulting to mimicrl:checkpoint; everything else in the
// URL is standard redis client configuration.
func OpenRedis(rawURL string) (*RedisStore, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	key := defaultRedisKey
	q := u.Query()
	if k := q.Get("key"); k != "" {
		key = k
	}
	q.Del("key")
	u.RawQuery = q.Encode()
	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		key:     key,
		timeout: 5 * time.Second,
	}, nil
}

func (s *RedisStore) Save(cp *Checkpoint) error {
	if err := cp.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load() (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint from redis: %w", err)
	}
	cp := &Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := cp.validate(); err != nil {
		return nil, err
	}
	return cp, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
