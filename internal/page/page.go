// Package page implements opaque forward-only pagination cursors. A cursor is
// bound to the (collection, order key) pair that produced it and is rejected
// when replayed against any other query shape.
package page

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// DefaultSize is the page size used by the admin console views.
const DefaultSize = 25

var (
	ErrInvalidCursor  = errors.New("page: invalid cursor")
	ErrCursorMismatch = errors.New("page: cursor bound to a different query")
)

// Request describes one forward page fetch. An empty cursor starts from the
// top of the ordering.
type Request struct {
	Limit  int
	Cursor string
}

// Normalize clamps the limit into a sane range.
func (r Request) Normalize() Request {
	if r.Limit <= 0 || r.Limit > 100 {
		r.Limit = DefaultSize
	}
	r.Cursor = strings.TrimSpace(r.Cursor)
	return r
}

type cursorPayload struct {
	Collection string `json:"c"`
	OrderKey   string `json:"o"`
	Position   string `json:"p"`
}

// Encode builds an opaque cursor marking a position within the descending
// ordering of orderKey over collection.
func Encode(collection, orderKey, position string) string {
	data, _ := json.Marshal(cursorPayload{
		Collection: collection,
		OrderKey:   orderKey,
		Position:   position,
	})
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode validates the cursor's binding and returns the encoded position.
func Decode(token, collection, orderKey string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCursor
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", ErrInvalidCursor
	}
	if payload.Collection != collection || payload.OrderKey != orderKey {
		return "", ErrCursorMismatch
	}
	if payload.Position == "" {
		return "", ErrInvalidCursor
	}
	return payload.Position, nil
}
