package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"investsmart.app/internal/ids"
	"investsmart.app/internal/page"
)

// Cursor binding for the audit log: cursors minted here are only valid for
// ts-descending iteration over this collection.
const (
	Collection = "auditLogs"
	OrderKey   = "ts"
)

// MemoryStore is an in-memory append-only Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

// NewMemoryStore initialises an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetClock overrides the append timestamp source. Only intended for tests.
func (m *MemoryStore) SetClock(fn func() time.Time) {
	if fn != nil {
		m.now = fn
	}
}

// Append assigns ID and TS and stores the record. Caller-provided timestamps
// are overwritten: the store owns time to prevent backdating.
func (m *MemoryStore) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = ids.New()
	rec.TS = m.now().UTC()
	m.records = append(m.records, *rec)
	return nil
}

// List returns records in descending ts order with a forward-only cursor.
func (m *MemoryStore) List(ctx context.Context, req page.Request) (Page, error) {
	req = req.Normalize()

	m.mu.RLock()
	sorted := make([]Record, len(m.records))
	copy(sorted, m.records)
	m.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].TS.Equal(sorted[j].TS) {
			return sorted[i].TS.After(sorted[j].TS)
		}
		return sorted[i].ID > sorted[j].ID
	})

	start := 0
	if req.Cursor != "" {
		pos, err := page.Decode(req.Cursor, Collection, OrderKey)
		if err != nil {
			return Page{}, err
		}
		_, lastID, err := SplitPosition(pos)
		if err != nil {
			return Page{}, err
		}
		for i, rec := range sorted {
			if rec.ID == lastID {
				start = i + 1
				break
			}
		}
	}

	end := start + req.Limit
	if end > len(sorted) {
		end = len(sorted)
	}
	out := Page{Records: sorted[start:end]}
	if end < len(sorted) && len(out.Records) > 0 {
		last := out.Records[len(out.Records)-1]
		out.NextCursor = page.Encode(Collection, OrderKey, Position(last.TS, last.ID))
	}
	return out, nil
}

// Len reports the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Position encodes a (ts, id) pair into a cursor position.
func Position(ts time.Time, id string) string {
	return ts.UTC().Format(time.RFC3339Nano) + "|" + id
}

// SplitPosition decodes a cursor position back into its (ts, id) pair.
func SplitPosition(pos string) (time.Time, string, error) {
	raw, id, ok := strings.Cut(pos, "|")
	if !ok || id == "" {
		return time.Time{}, "", page.ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: bad position timestamp", page.ErrInvalidCursor)
	}
	return ts, id, nil
}
