package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transient Redis failures on the consent path.
var ErrRedisUnavailable = errors.New("consent store unavailable")

// RedisStore is the Redis-backed consent Store.
//
//	{prefix}:r:{subject}:{client}  record JSON (TTL when the grant expires)
//	{prefix}:i:{subject}           set of client ids with records
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps the given client. prefix defaults to "uc".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "uc"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisStore) recordKey(subjectID, clientID string) string {
	return r.prefix + ":r:" + subjectID + ":" + clientID
}

func (r *RedisStore) indexKey(subjectID string) string {
	return r.prefix + ":i:" + subjectID
}

type redisConsent struct {
	SubjectID  string   `json:"sub"`
	ClientID   string   `json:"client"`
	Scopes     []string `json:"scopes"`
	Expiration *int64   `json:"exp,omitempty"`
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, subjectID, clientID string) (*Record, error) {
	data, err := r.redis.Get(ctx, r.recordKey(subjectID, clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var rec redisConsent
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt consent record: %v", ErrRedisUnavailable, err)
	}
	out := &Record{
		SubjectID: rec.SubjectID,
		ClientID:  rec.ClientID,
		Scopes:    rec.Scopes,
	}
	if rec.Expiration != nil {
		exp := time.Unix(*rec.Expiration, 0).UTC()
		out.Expiration = &exp
	}
	return out, nil
}

// Upsert implements Store. Records with an expiration also get a Redis
// TTL as a backstop; the engine still checks expiration on read.
func (r *RedisStore) Upsert(ctx context.Context, rec *Record) error {
	wire := redisConsent{
		SubjectID: rec.SubjectID,
		ClientID:  rec.ClientID,
		Scopes:    rec.Scopes,
	}
	var ttl time.Duration
	if rec.Expiration != nil {
		exp := rec.Expiration.Unix()
		wire.Expiration = &exp
		ttl = rec.Expiration.Sub(r.now())
		if ttl <= 0 {
			ttl = time.Second
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode consent: %w", err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(rec.SubjectID, rec.ClientID), data, ttl)
		pipe.SAdd(ctx, r.indexKey(rec.SubjectID), rec.ClientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, subjectID, clientID string) error {
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(subjectID, clientID))
		pipe.SRem(ctx, r.indexKey(subjectID), clientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteBySubject implements Store. The index set may hold clients whose
// records already lapsed via TTL; those do not count toward the total.
func (r *RedisStore) DeleteBySubject(ctx context.Context, subjectID string, clientIDs []string) (int, error) {
	targets := clientIDs
	if len(targets) == 0 {
		members, err := r.redis.SMembers(ctx, r.indexKey(subjectID)).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		targets = members
	}

	deleted := 0
	for _, clientID := range targets {
		existed, err := r.redis.Exists(ctx, r.recordKey(subjectID, clientID)).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if err := r.Delete(ctx, subjectID, clientID); err != nil {
			return deleted, err
		}
		if existed == 1 {
			deleted++
		}
	}
	return deleted, nil
}
