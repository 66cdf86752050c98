package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the bundled in-memory Store. It is the default when no
// Redis client is configured and the hermetic backend for tests. Safe for
// concurrent use; every returned Session is a copy.
type MemoryStore struct {
	mu sync.RWMutex

	// byKey is keyed by partition + "\x00" + key.
	byKey map[string]*Session

	// bySessionID maps partition + "\x00" + session id to the record key,
	// backing the (partition, session id) uniqueness invariant. The
	// stronger (partition, subject, session id) invariant follows from it.
	bySessionID map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:       map[string]*Session{},
		bySessionID: map[string]string{},
	}
}

func memKey(partitionKey, key string) string {
	return partitionKey + "\x00" + key
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kk := memKey(s.PartitionKey, s.Key)
	sk := memKey(s.PartitionKey, s.SessionID)
	if _, exists := m.byKey[kk]; exists {
		return ErrConflict
	}
	if _, exists := m.bySessionID[sk]; exists {
		return ErrConflict
	}

	m.byKey[kk] = s.Clone()
	m.bySessionID[sk] = s.Key
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, partitionKey, key string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byKey[memKey(partitionKey, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// GetByFilter implements Store.
func (m *MemoryStore) GetByFilter(ctx context.Context, partitionKey string, f Filter) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.byKey {
		if s.PartitionKey != partitionKey || !f.Matches(s) {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, partitionKey string, q Query) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matches []Session
	for _, s := range m.byKey {
		if s.PartitionKey != partitionKey || !matchesQuery(q, s) {
			continue
		}
		matches = append(matches, *s.Clone())
	}
	m.mu.RUnlock()

	return paginate(matches, q), nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kk := memKey(s.PartitionKey, s.Key)
	old, ok := m.byKey[kk]
	if !ok {
		return ErrNotFound
	}

	if old.SessionID != s.SessionID {
		newSK := memKey(s.PartitionKey, s.SessionID)
		if owner, exists := m.bySessionID[newSK]; exists && owner != s.Key {
			return ErrConflict
		}
		delete(m.bySessionID, memKey(s.PartitionKey, old.SessionID))
		m.bySessionID[newSK] = s.Key
	}

	m.byKey[kk] = s.Clone()
	return nil
}

// DeleteByFilter implements Store.
func (m *MemoryStore) DeleteByFilter(ctx context.Context, partitionKey string, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for kk, s := range m.byKey {
		if s.PartitionKey != partitionKey || !f.Matches(s) {
			continue
		}
		delete(m.byKey, kk)
		delete(m.bySessionID, memKey(partitionKey, s.SessionID))
		deleted++
	}
	return deleted, nil
}

// GetExpired implements Store.
func (m *MemoryStore) GetExpired(ctx context.Context, partitionKey string, now time.Time, limit int) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.byKey {
		if s.PartitionKey != partitionKey || !s.CheckExpired(now) {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expires.Before(*out[j].Expires) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(ctx context.Context, partitionKey string, now time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for kk, s := range m.byKey {
		if s.PartitionKey != partitionKey || !s.CheckExpired(now) {
			continue
		}
		delete(m.byKey, kk)
		delete(m.bySessionID, memKey(partitionKey, s.SessionID))
		deleted++
		if limit > 0 && deleted == limit {
			break
		}
	}
	return deleted, nil
}
