package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryCredentials is an in-memory CredentialStore for tests and local runs.
type MemoryCredentials struct {
	mu    sync.RWMutex
	byUID map[string]*Credential
}

// NewMemoryCredentials initialises an empty store.
func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{byUID: make(map[string]*Credential)}
}

func (m *MemoryCredentials) Create(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUID[cred.UID]; ok {
		return ErrConflict
	}
	for _, existing := range m.byUID {
		if strings.EqualFold(existing.Email, cred.Email) {
			return ErrConflict
		}
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	clone := *cred
	m.byUID[cred.UID] = &clone
	return nil
}

func (m *MemoryCredentials) Find(ctx context.Context, uid string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.byUID[uid]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cred
	return &clone, nil
}

func (m *MemoryCredentials) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cred := range m.byUID {
		if strings.EqualFold(cred.Email, email) {
			clone := *cred
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryCredentials) SetRoleClaim(ctx context.Context, uid, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byUID[uid]
	if !ok {
		return ErrNotFound
	}
	cred.RoleClaim = role
	return nil
}

func (m *MemoryCredentials) List(ctx context.Context, limit int) ([]*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Credential, 0, len(m.byUID))
	for _, cred := range m.byUID {
		clone := *cred
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
