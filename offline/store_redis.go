package offline

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors the ordered action list as one JSON blob under a
// fixed key, replaced wholesale on every mutation.
type RedisStore struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

var _ QueueStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key, ctx: context.Background()}
}

func (s *RedisStore) Save(actions []Action) error {
	if len(actions) == 0 {
		if err := s.client.Del(s.ctx, s.key).Err(); err != nil {
			return errors.Wrap(err, "[RedisStore.Save] del")
		}
		return nil
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return errors.Wrap(err, "[RedisStore.Save] marshal")
	}
	if err := s.client.Set(s.ctx, s.key, data, 0).Err(); err != nil {
		return errors.Wrap(err, "[RedisStore.Save] set")
	}
	return nil
}

func (s *RedisStore) Load() ([]Action, error) {
	data, err := s.client.Get(s.ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisStore.Load] get")
	}
	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, errors.Wrap(err, "[RedisStore.Load] unmarshal")
	}
	return actions, nil
}
