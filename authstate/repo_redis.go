package authstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "authstate:"

// RedisRepo stores flow states in Redis with a TTL matching their expiry.
// Consume uses GETDEL so two concurrent callbacks with the same state can
// never both resolve it.
type RedisRepo struct {
	client *redis.Client
	ctx    context.Context
}

var _ Repo = (*RedisRepo)(nil)

// NewRedisRepo creates a Redis-backed state repository.
func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client, ctx: context.Background()}
}

// Put stores a new state, expiring it from Redis at its own expiry.
func (r *RedisRepo) Put(state *State) error {
	if state == nil || state.Value == "" {
		return errors.New("state value cannot be empty")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "[RedisRepo.Put] marshal")
	}
	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(r.ctx, redisKeyPrefix+state.Value, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.Put] set")
	}
	return nil
}

// Consume atomically removes and returns the state.
func (r *RedisRepo) Consume(value string, now time.Time) (*State, error) {
	if value == "" {
		return nil, ErrStateNotFound
	}
	data, err := r.client.GetDel(r.ctx, redisKeyPrefix+value).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.Consume] getdel")
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.Consume] unmarshal")
	}
	if state.Expired(now) {
		return nil, ErrStateExpired
	}
	return &state, nil
}

// DeleteExpired is a no-op: Redis expires state keys itself.
func (r *RedisRepo) DeleteExpired(time.Time) error {
	return nil
}
