// Package directory stores user profiles: the admin-visible projection of the
// user base. Profiles are not the authentication identity itself; deleting a
// profile leaves the login credential intact.
package directory

import (
	"context"
	"errors"
	"time"

	"investsmart.app/internal/page"
)

var (
	ErrNotFound = errors.New("directory: profile not found")
	ErrConflict = errors.New("directory: profile already exists")
)

// Cursor binding for the user directory's default ordering.
const (
	Collection = "users"
	OrderKey   = "lastLogin"
)

// Profile is one user directory record, keyed by the identity provider's uid.
type Profile struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Disabled  bool      `json:"disabled"`
	LastLogin time.Time `json:"last_login"`
}

// Page is one slice of the directory in descending lastLogin order.
type Page struct {
	Profiles   []Profile `json:"profiles"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// Store persists profiles.
type Store interface {
	// Create inserts a new profile. ErrConflict when the uid is taken.
	Create(ctx context.Context, p *Profile) error
	// Ensure upserts: absent profiles are created with defaults and a fresh
	// lastLogin; present profiles get only lastLogin touched.
	Ensure(ctx context.Context, uid, email string) error
	Find(ctx context.Context, uid string) (*Profile, error)
	// List pages through the directory ordered by lastLogin descending.
	List(ctx context.Context, req page.Request) (Page, error)
	// SearchByEmail replaces the default ordering with a prefix range scan
	// over the email field. Not combinable with a List cursor.
	SearchByEmail(ctx context.Context, prefix string, limit int) ([]Profile, error)
	SetDisabled(ctx context.Context, uid string, disabled bool) error
	Delete(ctx context.Context, uid string) error
}
