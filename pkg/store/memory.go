package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type unitKey struct{ site, device, unit string }

func keyOf(ref UnitRef) unitKey { return unitKey{ref.SiteID, ref.DeviceID, ref.UnitID} }

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	units map[unitKey]*Unit
	logs  map[string]*LogEntry
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units: make(map[unitKey]*Unit),
		logs:  make(map[string]*LogEntry),
		now:   time.Now,
	}
}

func (m *MemoryStore) unit(ref UnitRef) *Unit {
	u, ok := m.units[keyOf(ref)]
	if !ok {
		u = &Unit{UnitRef: ref, Status: HealthNormal, Fields: make(map[string]interface{})}
		m.units[keyOf(ref)] = u
	}
	return u
}

// ListUnits implements Catalog
func (m *MemoryStore) ListUnits(_ context.Context) ([]UnitRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]UnitRef, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u.UnitRef)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// UpsertUnit implements Catalog
func (m *MemoryStore) UpsertUnit(_ context.Context, ref UnitRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.unit(ref)
	u.DeviceType = ref.DeviceType
	return nil
}

// GetField implements UnitData
func (m *MemoryStore) GetField(_ context.Context, ref UnitRef, field string) (interface{}, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[keyOf(ref)]
	if !ok {
		return nil, false, nil
	}
	v, ok := u.Fields[field]
	return v, ok, nil
}

// SetField implements UnitData
func (m *MemoryStore) SetField(_ context.Context, ref UnitRef, field string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.unit(ref)
	u.Fields[field] = value
	u.UpdatedAt = m.now()
	return nil
}

// SetStatus implements UnitData
func (m *MemoryStore) SetStatus(_ context.Context, ref UnitRef, status HealthStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.unit(ref)
	u.Status = status
	u.UpdatedAt = m.now()
	return nil
}

// GetUnit implements UnitData
func (m *MemoryStore) GetUnit(_ context.Context, ref UnitRef) (*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[keyOf(ref)]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", ref, ErrNotFound)
	}
	cp := *u
	cp.Fields = make(map[string]interface{}, len(u.Fields))
	for k, v := range u.Fields {
		cp.Fields[k] = v
	}
	return &cp, nil
}

// Create implements CommandLog
func (m *MemoryStore) Create(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.logs[entry.ID]; exists {
		return fmt.Errorf("log entry %s: %w", entry.ID, ErrDuplicate)
	}
	entry.Status = LogWaiting
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	m.logs[entry.ID] = &entry
	return nil
}

// Get implements CommandLog
func (m *MemoryStore) Get(_ context.Context, id string) (*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.logs[id]
	if !ok {
		return nil, fmt.Errorf("log entry %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// Finalize implements CommandLog
func (m *MemoryStore) Finalize(_ context.Context, id string, status LogStatus, result, errMsg string) (bool, error) {
	if err := validFinalStatus(status); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.logs[id]
	if !ok {
		return false, fmt.Errorf("log entry %s: %w", id, ErrNotFound)
	}
	if e.Status != LogWaiting {
		return false, nil
	}
	e.Status = status
	e.Result = result
	e.Error = errMsg
	e.FinishedAt = m.now()
	return true, nil
}

// Close implements Store
func (m *MemoryStore) Close() error { return nil }
