package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// createSessionScript inserts a record only when both the record key and
// the session-id mapping are free, making conflict detection atomic under
// racing logins and refreshes.
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("SADD", KEYS[4], ARGV[2])
if ARGV[3] ~= "" then
  redis.call("ZADD", KEYS[5], ARGV[3], ARGV[2])
end
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// RedisStore is the Redis-backed Store. Record bodies are JSON blobs;
// secondary structures back the uniqueness invariants and the expiration
// sweep:
//
//	{prefix}:{partition}:k:{key}    record JSON
//	{prefix}:{partition}:sid:{sid}  session-id -> record key
//	{prefix}:{partition}:sub:{sub}  set of record keys per subject
//	{prefix}:{partition}:keys       set of all record keys
//	{prefix}:{partition}:exp        zset of record keys scored by expiry
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore wraps the given client. prefix defaults to "ss".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ss"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (r *RedisStore) recordKey(pk, key string) string { return r.prefix + ":" + pk + ":k:" + key }
func (r *RedisStore) sidKey(pk, sid string) string    { return r.prefix + ":" + pk + ":sid:" + sid }
func (r *RedisStore) subjectKey(pk, sub string) string {
	return r.prefix + ":" + pk + ":sub:" + sub
}
func (r *RedisStore) allKey(pk string) string { return r.prefix + ":" + pk + ":keys" }
func (r *RedisStore) expKey(pk string) string { return r.prefix + ":" + pk + ":exp" }

type redisRecord struct {
	Key         string `json:"key"`
	SubjectID   string `json:"sub"`
	SessionID   string `json:"sid"`
	DisplayName string `json:"name,omitempty"`
	Created     int64  `json:"created"`
	Renewed     int64  `json:"renewed"`
	Expires     *int64 `json:"expires,omitempty"`
	Ticket      []byte `json:"ticket"`
}

func encodeRecord(s *Session) ([]byte, error) {
	rec := redisRecord{
		Key:         s.Key,
		SubjectID:   s.SubjectID,
		SessionID:   s.SessionID,
		DisplayName: s.DisplayName,
		Created:     s.Created.UnixMicro(),
		Renewed:     s.Renewed.UnixMicro(),
		Ticket:      s.Ticket,
	}
	if s.Expires != nil {
		exp := s.Expires.UnixMicro()
		rec.Expires = &exp
	}
	return json.Marshal(rec)
}

func decodeRecord(pk string, data []byte) (*Session, error) {
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt session record: %v", ErrStoreUnavailable, err)
	}
	s := &Session{
		Key:          rec.Key,
		PartitionKey: pk,
		SubjectID:    rec.SubjectID,
		SessionID:    rec.SessionID,
		DisplayName:  rec.DisplayName,
		Created:      time.UnixMicro(rec.Created).UTC(),
		Renewed:      time.UnixMicro(rec.Renewed).UTC(),
		Ticket:       rec.Ticket,
	}
	if rec.Expires != nil {
		exp := time.UnixMicro(*rec.Expires).UTC()
		s.Expires = &exp
	}
	return s, nil
}

func expScore(s *Session) string {
	if s.Expires == nil {
		return ""
	}
	return strconv.FormatInt(s.Expires.UnixMicro(), 10)
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	data, err := encodeRecord(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pk := s.PartitionKey
	keys := []string{
		r.recordKey(pk, s.Key),
		r.sidKey(pk, s.SessionID),
		r.subjectKey(pk, s.SubjectID),
		r.allKey(pk),
		r.expKey(pk),
	}
	created, err := createSessionLua.Run(ctx, r.redis, keys, data, s.Key, expScore(s)).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created == 0 {
		return ErrConflict
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, partitionKey, key string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.recordKey(partitionKey, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeRecord(partitionKey, data)
}

// keysForFilter resolves the record keys a filter touches, using the
// narrowest index available.
func (r *RedisStore) keysForFilter(ctx context.Context, pk string, f Filter) ([]string, error) {
	if f.SessionID != "" {
		key, err := r.redis.Get(ctx, r.sidKey(pk, f.SessionID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return []string{key}, nil
	}

	indexKey := r.allKey(pk)
	if f.SubjectID != "" {
		indexKey = r.subjectKey(pk, f.SubjectID)
	}
	keys, err := r.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return keys, nil
}

// fetch loads records for the given keys, silently skipping keys that
// vanished between index read and fetch.
func (r *RedisStore) fetch(ctx context.Context, pk string, keys []string) ([]Session, error) {
	var out []Session
	for _, key := range keys {
		data, err := r.redis.Get(ctx, r.recordKey(pk, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		s, err := decodeRecord(pk, data)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// GetByFilter implements Store.
func (r *RedisStore) GetByFilter(ctx context.Context, partitionKey string, f Filter) ([]Session, error) {
	keys, err := r.keysForFilter(ctx, partitionKey, f)
	if err != nil {
		return nil, err
	}
	sessions, err := r.fetch(ctx, partitionKey, keys)
	if err != nil {
		return nil, err
	}

	out := sessions[:0]
	for i := range sessions {
		if f.Matches(&sessions[i]) {
			out = append(out, sessions[i])
		}
	}
	sortBySessionID(out)
	return out, nil
}

// Query implements Store. Paging semantics are shared with the in-memory
// store through paginate, so both produce byte-identical results tokens
// for equivalent data.
func (r *RedisStore) Query(ctx context.Context, partitionKey string, q Query) (*QueryResult, error) {
	keys, err := r.redis.SMembers(ctx, r.allKey(partitionKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sessions, err := r.fetch(ctx, partitionKey, keys)
	if err != nil {
		return nil, err
	}

	matches := sessions[:0]
	for i := range sessions {
		if matchesQuery(q, &sessions[i]) {
			matches = append(matches, sessions[i])
		}
	}
	return paginate(matches, q), nil
}

// Update implements Store. The read-then-write pair is not atomic; the
// engine's update paths are last-writer-wins by design and a lost update
// merely shortens a session's effective lifetime.
func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	pk := s.PartitionKey
	old, err := r.Get(ctx, pk, s.Key)
	if err != nil {
		return err
	}

	if old.SessionID != s.SessionID {
		owner, err := r.redis.Get(ctx, r.sidKey(pk, s.SessionID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err == nil && owner != s.Key {
			return ErrConflict
		}
	}

	data, err := encodeRecord(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(pk, s.Key), data, 0)
		if old.SessionID != s.SessionID {
			pipe.Del(ctx, r.sidKey(pk, old.SessionID))
			pipe.Set(ctx, r.sidKey(pk, s.SessionID), s.Key, 0)
		}
		if old.SubjectID != s.SubjectID {
			pipe.SRem(ctx, r.subjectKey(pk, old.SubjectID), s.Key)
			pipe.SAdd(ctx, r.subjectKey(pk, s.SubjectID), s.Key)
		}
		if score := expScore(s); score != "" {
			exp, _ := strconv.ParseFloat(score, 64)
			pipe.ZAdd(ctx, r.expKey(pk), redis.Z{Score: exp, Member: s.Key})
		} else {
			pipe.ZRem(ctx, r.expKey(pk), s.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisStore) deleteOne(ctx context.Context, s *Session) error {
	pk := s.PartitionKey
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(pk, s.Key))
		pipe.Del(ctx, r.sidKey(pk, s.SessionID))
		pipe.SRem(ctx, r.subjectKey(pk, s.SubjectID), s.Key)
		pipe.SRem(ctx, r.allKey(pk), s.Key)
		pipe.ZRem(ctx, r.expKey(pk), s.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteByFilter implements Store.
func (r *RedisStore) DeleteByFilter(ctx context.Context, partitionKey string, f Filter) (int, error) {
	sessions, err := r.GetByFilter(ctx, partitionKey, f)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := range sessions {
		if err := r.deleteOne(ctx, &sessions[i]); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (r *RedisStore) expiredKeys(ctx context.Context, pk string, now time.Time, limit int) ([]string, error) {
	rng := &redis.ZRangeBy{
		Min: "-inf",
		// Exclusive bound: a session expiring exactly at now is still live.
		Max: "(" + strconv.FormatInt(now.UnixMicro(), 10),
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	keys, err := r.redis.ZRangeByScore(ctx, r.expKey(pk), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return keys, nil
}

// GetExpired implements Store.
func (r *RedisStore) GetExpired(ctx context.Context, partitionKey string, now time.Time, limit int) ([]Session, error) {
	keys, err := r.expiredKeys(ctx, partitionKey, now, limit)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, partitionKey, keys)
}

// DeleteExpired implements Store.
func (r *RedisStore) DeleteExpired(ctx context.Context, partitionKey string, now time.Time, limit int) (int, error) {
	sessions, err := r.GetExpired(ctx, partitionKey, now, limit)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := range sessions {
		if err := r.deleteOne(ctx, &sessions[i]); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func sortBySessionID(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})
}
