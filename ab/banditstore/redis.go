package banditstore

import (
	"context"

	redis "github.com/redis/go-redis/v9"

	"github.com/alextanhongpin/mab/ab"
)

// DefaultRedisKey is the hash holding one field per experiment.
const DefaultRedisKey = "mab:bandits"

var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	client redis.UniversalClient
	key    string
	opts   *options
}

func NewRedisStore(client redis.UniversalClient, key string, opts ...Option) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisStore{
		client: client,
		key:    key,
		opts:   newOptions(opts...),
	}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]*ab.Bandit, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	raw := make(map[string][]byte, len(fields))
	for name, v := range fields {
		raw[name] = []byte(v)
	}

	return s.opts.decode(ctx, "redis", raw), nil
}

// Save replaces the hash in a single transaction.
func (s *RedisStore) Save(ctx context.Context, bandits map[string]*ab.Bandit) error {
	raw, err := encode(bandits)
	if err != nil {
		return err
	}

	values := make([]any, 0, 2*len(raw))
	for name, data := range raw {
		values = append(values, name, data)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})

	return writeError(err)
}
