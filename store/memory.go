package store

import (
	"context"
	"slices"
	"sync"

	"github.com/websynth/patchbay"
)

// Memory keeps descriptions in process memory. The zero value is ready to
// use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]patchbay.Description
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]patchbay.Description)}
}

func (m *Memory) Save(_ context.Context, key string, d patchbay.Description) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]patchbay.Description)
	}
	m.data[key] = d.Copy()
	return nil
}

func (m *Memory) Load(_ context.Context, key string) (patchbay.Description, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[key]
	if !ok {
		return patchbay.Description{}, ErrNotFound
	}
	return d.Copy(), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
