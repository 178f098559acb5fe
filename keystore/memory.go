package keystore

import (
	"context"
	"fmt"
	"sync"
)

type memKey struct {
	role Role
	id   string
}

// MemStore is an in-process Store used by tests and embedded setups. It holds
// material in clear; at-rest wrapping is a SQLStore concern.
type MemStore struct {
	mu       sync.RWMutex
	material map[memKey]KeyMaterial
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{material: make(map[memKey]KeyMaterial)}
}

func (m *MemStore) Issue(_ context.Context, principalID string, role Role, material KeyMaterial) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{role: role, id: principalID}
	if _, exists := m.material[k]; exists {
		return fmt.Errorf("%w: %s %s", ErrAlreadyIssued, role, principalID)
	}
	m.material[k] = material
	return nil
}

func (m *MemStore) Lookup(_ context.Context, principalID string, role Role) (*KeyMaterial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	material, ok := m.material[memKey{role: role, id: principalID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrPrincipalNotFound, role, principalID)
	}
	out := material
	return &out, nil
}

func (m *MemStore) Delete(_ context.Context, principalID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{role: role, id: principalID}
	if _, ok := m.material[k]; !ok {
		return fmt.Errorf("%w: %s %s", ErrPrincipalNotFound, role, principalID)
	}
	delete(m.material, k)
	return nil
}
