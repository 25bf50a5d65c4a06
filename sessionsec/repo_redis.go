package sessionsec

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "user_sessions:"
)

// RedisRepo stores sessions as JSON blobs with a per-user index set.
// Mutations are read-modify-write on the blob; the per-session key keeps
// conflicting writes serialized within Redis.
type RedisRepo struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
}

var _ Repo = (*RedisRepo)(nil)

// NewRedisRepo creates a Redis-backed session repository. ttl bounds how
// long deactivated records stay readable for audit.
func NewRedisRepo(client *redis.Client, ttl time.Duration) *RedisRepo {
	return &RedisRepo{client: client, ctx: context.Background(), ttl: ttl}
}

func (r *RedisRepo) Create(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "[RedisRepo.Create] marshal")
	}
	pipe := r.client.TxPipeline()
	pipe.Set(r.ctx, sessionKeyPrefix+session.ID, data, r.ttl)
	pipe.SAdd(r.ctx, userIndexKeyPrefix+session.UserID, session.ID)
	pipe.Expire(r.ctx, userIndexKeyPrefix+session.UserID, r.ttl)
	if _, err := pipe.Exec(r.ctx); err != nil {
		return errors.Wrap(err, "[RedisRepo.Create] pipeline")
	}
	return nil
}

func (r *RedisRepo) Get(id string) (*Session, error) {
	data, err := r.client.Get(r.ctx, sessionKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.Get] get")
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.Get] unmarshal")
	}
	return &session, nil
}

func (r *RedisRepo) ListByUser(userID string, activeOnly bool) ([]*Session, error) {
	ids, err := r.client.SMembers(r.ctx, userIndexKeyPrefix+userID).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.ListByUser] smembers")
	}
	var out []*Session
	for _, id := range ids {
		session, err := r.Get(id)
		if errors.Is(err, ErrSessionNotFound) {
			// Expired blob left behind in the index.
			r.client.SRem(r.ctx, userIndexKeyPrefix+userID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if activeOnly && !session.IsActive {
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

func (r *RedisRepo) Touch(id string, at time.Time) error {
	return r.update(id, func(s *Session) {
		s.LastUsed = at
	})
}

func (r *RedisRepo) UpdateTokens(id string, tokens TokenPair, at time.Time) error {
	return r.update(id, func(s *Session) {
		s.SessionToken = tokens.AccessToken
		s.RefreshToken = tokens.RefreshToken
		s.LastUsed = at
	})
}

func (r *RedisRepo) IncrementRisk(id string, delta, cap int) (int, error) {
	var score int
	err := r.update(id, func(s *Session) {
		s.RiskScore += delta
		if s.RiskScore > cap {
			s.RiskScore = cap
		}
		score = s.RiskScore
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

func (r *RedisRepo) Deactivate(id string, reason InvalidationReason, at time.Time) error {
	return r.update(id, func(s *Session) {
		if !s.IsActive {
			return
		}
		s.IsActive = false
		s.InvalidatedAt = &at
		s.InvalidationReason = reason
	})
}

// update applies a mutation under WATCH so a concurrent write retries
// rather than clobbering.
func (r *RedisRepo) update(id string, mutate func(*Session)) error {
	key := sessionKeyPrefix + id
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(r.ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		mutate(&session)
		updated, err := json.Marshal(&session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(r.ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(r.ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := r.client.Watch(r.ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return errors.Wrap(err, "[RedisRepo.update] watch")
		}
		return nil
	}
	return errors.New("[RedisRepo.update] transaction contention")
}
