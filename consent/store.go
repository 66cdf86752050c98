package consent

import (
	"context"
	"sort"
	"sync"
)

// Store persists consent records. Get returns (nil, nil) for a missing
// record; deleting a missing record is a no-op.
type Store interface {
	Get(ctx context.Context, subjectID, clientID string) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, subjectID, clientID string) error

	// DeleteBySubject removes the subject's records, narrowed to
	// clientIDs when non-empty, and reports the count.
	DeleteBySubject(ctx context.Context, subjectID string, clientIDs []string) (int, error)
}

// MemoryStore is the bundled in-memory Store.
type MemoryStore struct {
	mu sync.RWMutex
	// bySubject maps subject id -> client id -> record.
	bySubject map[string]map[string]*Record
}

// NewMemoryStore returns an empty in-memory consent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySubject: map[string]map[string]*Record{}}
}

func cloneRecord(r *Record) *Record {
	dup := *r
	dup.Scopes = append([]string(nil), r.Scopes...)
	if r.Expiration != nil {
		exp := *r.Expiration
		dup.Expiration = &exp
	}
	return &dup
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, subjectID, clientID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.bySubject[subjectID][clientID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clients, ok := m.bySubject[rec.SubjectID]
	if !ok {
		clients = map[string]*Record{}
		m.bySubject[rec.SubjectID] = clients
	}
	clients[rec.ClientID] = cloneRecord(rec)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, subjectID, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.bySubject[subjectID], clientID)
	return nil
}

// DeleteBySubject implements Store.
func (m *MemoryStore) DeleteBySubject(ctx context.Context, subjectID string, clientIDs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := m.bySubject[subjectID]
	if len(clients) == 0 {
		return 0, nil
	}

	var targets []string
	if len(clientIDs) == 0 {
		for id := range clients {
			targets = append(targets, id)
		}
		sort.Strings(targets)
	} else {
		targets = clientIDs
	}

	deleted := 0
	for _, id := range targets {
		if _, ok := clients[id]; ok {
			delete(clients, id)
			deleted++
		}
	}
	return deleted, nil
}
