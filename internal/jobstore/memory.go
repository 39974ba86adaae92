package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and the dry-run CLI. It mirrors
// the durable implementation's semantics exactly (upsert with earliest-wins
// for recurring NextFire, due query, coalescing Complete) but loses state on
// process exit.
type Memory struct {
	mu       sync.Mutex
	triggers map[string]TriggerRecord
	now      func() time.Time
}

// NewMemory creates an empty in-memory trigger store.
func NewMemory() *Memory {
	return &Memory{
		triggers: make(map[string]TriggerRecord),
		now:      time.Now,
	}
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, rec TriggerRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("jobstore: trigger key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec.NextFire = rec.NextFire.UTC()
	if prev, ok := m.triggers[rec.Key]; ok {
		rec.CreatedAt = prev.CreatedAt
		if rec.Kind == KindRecurring && prev.Kind == KindRecurring && prev.NextFire.Before(rec.NextFire) {
			rec.NextFire = prev.NextFire
		}
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.triggers[rec.Key] = rec
	return nil
}

// Due implements Store.
func (m *Memory) Due(_ context.Context, asOf time.Time) ([]TriggerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []TriggerRecord
	for _, rec := range m.triggers {
		if !rec.NextFire.After(asOf) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextFire.Before(due[j].NextFire)
	})
	return due, nil
}

// Remove implements Store.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggers, key)
	return nil
}

// Complete implements Store.
func (m *Memory) Complete(_ context.Context, key string, firedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.triggers[key]
	if !ok {
		// Already removed (e.g. subscription deactivated mid-firing).
		return nil
	}

	if rec.Kind != KindRecurring {
		delete(m.triggers, key)
		return nil
	}

	next, err := NextFireFor(rec, firedAt)
	if err != nil {
		return fmt.Errorf("advancing trigger %q: %w", key, err)
	}
	rec.NextFire = next
	rec.UpdatedAt = m.now().UTC()
	m.triggers[key] = rec
	return nil
}

// Get returns the current record for key, for test assertions.
func (m *Memory) Get(key string) (TriggerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.triggers[key]
	return rec, ok
}
