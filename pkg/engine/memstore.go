package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// MemStore is a thread-safe record store: an in-memory index mirrored to a
// JSON snapshot on every mutation.
type MemStore struct {
	mu        sync.RWMutex
	records   map[string]schema.Assessment
	order     []string
	persister *Persistence
	now       func() time.Time
}

// NewMemStore initializes a store.
// It accepts existing records (from Load) and an optional persister.
// Records repeating an earlier id are dropped.
func NewMemStore(initial []schema.Assessment, p *Persistence) *MemStore {
	m := &MemStore{
		records:   make(map[string]schema.Assessment, len(initial)),
		persister: p,
		now:       time.Now,
	}
	for _, rec := range initial {
		if rec.ID == "" {
			continue
		}
		if _, ok := m.records[rec.ID]; ok {
			continue
		}
		m.records[rec.ID] = rec.Clone()
		m.order = append(m.order, rec.ID)
	}
	return m
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *MemStore) Get(id string) (schema.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return schema.Assessment{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemStore) List() ([]schema.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshot(), nil
}

func (m *MemStore) Create(rec schema.Assessment) (schema.Assessment, error) {
	if rec.ID == "" {
		return schema.Assessment{}, ErrEmptyID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return schema.Assessment{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	rec = rec.Clone()
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)

	if err := m.persist(); err != nil {
		delete(m.records, rec.ID)
		m.order = m.order[:len(m.order)-1]
		return schema.Assessment{}, err
	}
	return rec.Clone(), nil
}

func (m *MemStore) Update(id string, mutate func(*schema.Assessment) error) (schema.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.records[id]
	if !ok {
		return schema.Assessment{}, ErrNotFound
	}

	next := prev.Clone()
	if err := mutate(&next); err != nil {
		return schema.Assessment{}, err
	}
	// Identity and creation time are immutable.
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = m.tick(prev.UpdatedAt)

	m.records[id] = next
	if err := m.persist(); err != nil {
		m.records[id] = prev
		return schema.Assessment{}, err
	}
	return next.Clone(), nil
}

// tick returns the current time, forced strictly after prev.
func (m *MemStore) tick(prev time.Time) time.Time {
	now := m.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// persist writes the full collection. It MUST be called while holding m.mu.Lock.
func (m *MemStore) persist() error {
	if m.persister == nil {
		return nil
	}
	if err := m.persister.Save(m.snapshot()); err != nil {
		return fmt.Errorf("persist assessments: %w", err)
	}
	return nil
}

// snapshot returns a deep copy of all records in insertion order.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) snapshot() []schema.Assessment {
	list := make([]schema.Assessment, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.records[id].Clone())
	}
	return list
}
