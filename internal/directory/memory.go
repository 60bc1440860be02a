package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"investsmart.app/internal/page"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

// NewMemoryStore initialises an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile), now: time.Now}
}

// SetClock overrides the lastLogin timestamp source. Only intended for tests.
func (m *MemoryStore) SetClock(fn func() time.Time) {
	if fn != nil {
		m.now = fn
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UID]; ok {
		return ErrConflict
	}
	if p.LastLogin.IsZero() {
		p.LastLogin = m.now().UTC()
	}
	clone := *p
	m.profiles[p.UID] = &clone
	return nil
}

func (m *MemoryStore) Ensure(ctx context.Context, uid, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if existing, ok := m.profiles[uid]; ok {
		existing.LastLogin = now
		return nil
	}
	m.profiles[uid] = &Profile{UID: uid, Email: email, LastLogin: now}
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, uid string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[uid]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *MemoryStore) List(ctx context.Context, req page.Request) (Page, error) {
	req = req.Normalize()

	m.mu.RLock()
	sorted := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		sorted = append(sorted, *p)
	}
	m.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].LastLogin.Equal(sorted[j].LastLogin) {
			return sorted[i].LastLogin.After(sorted[j].LastLogin)
		}
		return sorted[i].UID > sorted[j].UID
	})

	start := 0
	if req.Cursor != "" {
		pos, err := page.Decode(req.Cursor, Collection, OrderKey)
		if err != nil {
			return Page{}, err
		}
		lastLogin, lastUID, err := SplitPosition(pos)
		if err != nil {
			return Page{}, err
		}
		// Keyset predicate, as in the SQL store: resume strictly after the
		// decoded (lastLogin, uid) position even when that row is gone.
		start = len(sorted)
		for i, p := range sorted {
			if p.LastLogin.Before(lastLogin) ||
				(p.LastLogin.Equal(lastLogin) && p.UID < lastUID) {
				start = i
				break
			}
		}
	}

	end := start + req.Limit
	if end > len(sorted) {
		end = len(sorted)
	}
	out := Page{Profiles: sorted[start:end]}
	if end < len(sorted) && len(out.Profiles) > 0 {
		last := out.Profiles[len(out.Profiles)-1]
		out.NextCursor = page.Encode(Collection, OrderKey, Position(last.LastLogin, last.UID))
	}
	return out, nil
}

func (m *MemoryStore) SearchByEmail(ctx context.Context, prefix string, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = page.DefaultSize
	}
	prefix = strings.TrimSpace(prefix)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Profile
	for _, p := range m.profiles {
		if strings.HasPrefix(p.Email, prefix) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return ErrNotFound
	}
	p.Disabled = disabled
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[uid]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, uid)
	return nil
}

// Position encodes a (lastLogin, uid) pair into a cursor position.
func Position(ts time.Time, uid string) string {
	return ts.UTC().Format(time.RFC3339Nano) + "|" + uid
}

// SplitPosition decodes a cursor position back into its (lastLogin, uid) pair.
func SplitPosition(pos string) (time.Time, string, error) {
	raw, uid, ok := strings.Cut(pos, "|")
	if !ok || uid == "" {
		return time.Time{}, "", page.ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", page.ErrInvalidCursor
	}
	return ts, uid, nil
}
