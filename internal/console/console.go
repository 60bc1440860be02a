// Package console implements the admin console session: the user directory
// with forward-only pagination and email search, the disable/enable and
// profile-removal mutations, and the lazily loaded audit viewer.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"investsmart.app/internal/audit"
	"investsmart.app/internal/directory"
	"investsmart.app/internal/identity"
	"investsmart.app/internal/page"
	"investsmart.app/internal/rbac"
)

var (
	// ErrForbidden is returned when the caller is not an administrator.
	ErrForbidden = errors.New("console: admin role required")
	// ErrNotConfirmed rejects a profile removal without explicit confirmation.
	ErrNotConfirmed = errors.New("console: removal not confirmed")
	// ErrNotOpen is returned when a session method runs before Open.
	ErrNotOpen = errors.New("console: session not open")
)

// Console is a single operator's session. It holds the loaded directory and
// audit pages and mutates them only after the backing store accepted the
// write. All methods are safe for concurrent use; operations run one at a
// time per session.
type Console struct {
	resolver *rbac.Resolver
	profiles directory.Store
	records  audit.Store
	auditor  *audit.Logger

	mu     sync.Mutex
	opened bool

	users       []directory.Profile
	usersCursor string
	searching   bool

	auditOpened bool
	auditPage   []audit.Record
	auditCursor string
}

// New constructs a console session.
func New(resolver *rbac.Resolver, profiles directory.Store, records audit.Store, auditor *audit.Logger) (*Console, error) {
	if resolver == nil || profiles == nil || records == nil || auditor == nil {
		return nil, errors.New("console: resolver, profiles, records and auditor are required")
	}
	return &Console{resolver: resolver, profiles: profiles, records: records, auditor: auditor}, nil
}

// requireAdmin re-resolves the caller's role with a forced refresh. A missing
// identity or a resolution failure denies.
func (c *Console) requireAdmin(ctx context.Context) error {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return ErrForbidden
	}
	role, err := c.resolver.Resolve(ctx, id)
	if err != nil || role != rbac.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// Open verifies the operator's role, upserts their profile record, loads the
// first directory page and audits the dashboard view. The route guard has
// already admitted the caller; the re-check here keeps the session honest
// when used standalone.
func (c *Console) Open(ctx context.Context) error {
	if err := c.requireAdmin(ctx); err != nil {
		return err
	}
	id, _ := identity.FromContext(ctx)
	if err := c.profiles.Ensure(ctx, id.UID, id.Email); err != nil {
		return fmt.Errorf("console: ensure operator profile: %w", err)
	}

	p, err := c.profiles.List(ctx, page.Request{})
	if err != nil {
		return fmt.Errorf("console: load directory: %w", err)
	}

	c.mu.Lock()
	c.opened = true
	c.users = p.Profiles
	c.usersCursor = p.NextCursor
	c.searching = false
	c.mu.Unlock()

	c.auditor.Log(ctx, audit.ActionDashboardView, &audit.Target{Type: "admin_dashboard"}, nil)
	return nil
}

// Users returns a copy of the currently held directory page(s).
func (c *Console) Users() []directory.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]directory.Profile, len(c.users))
	copy(out, c.users)
	return out
}

// HasMoreUsers reports whether a further directory page exists.
func (c *Console) HasMoreUsers() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersCursor != ""
}

// LoadMoreUsers appends the next directory page. It is a no-op at the end of
// the directory and while an email search is active; search results carry no
// cursor.
func (c *Console) LoadMoreUsers(ctx context.Context) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if c.searching || c.usersCursor == "" {
		c.mu.Unlock()
		return nil
	}
	cursor := c.usersCursor
	c.mu.Unlock()

	p, err := c.profiles.List(ctx, page.Request{Cursor: cursor})
	if err != nil {
		return fmt.Errorf("console: load directory: %w", err)
	}

	c.mu.Lock()
	c.users = append(c.users, p.Profiles...)
	c.usersCursor = p.NextCursor
	c.mu.Unlock()
	return nil
}

// SearchByEmail replaces the directory view with a prefix scan. A blank term
// leaves search mode and reloads the first page.
func (c *Console) SearchByEmail(ctx context.Context, term string) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return ErrNotOpen
	}
	c.mu.Unlock()

	term = strings.TrimSpace(strings.ToLower(term))
	if term == "" {
		p, err := c.profiles.List(ctx, page.Request{})
		if err != nil {
			return fmt.Errorf("console: load directory: %w", err)
		}
		c.mu.Lock()
		c.users = p.Profiles
		c.usersCursor = p.NextCursor
		c.searching = false
		c.mu.Unlock()
		return nil
	}

	matches, err := c.profiles.SearchByEmail(ctx, term, page.DefaultSize)
	if err != nil {
		return fmt.Errorf("console: search directory: %w", err)
	}
	c.mu.Lock()
	c.users = matches
	c.usersCursor = ""
	c.searching = true
	c.mu.Unlock()
	return nil
}

// SetDisabled flips a user's disabled flag. The held page is updated only
// after the store accepted the write; every call produces its own audit
// record even when the flag already had the requested value.
func (c *Console) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	if err := c.requireAdmin(ctx); err != nil {
		return err
	}
	if err := c.profiles.SetDisabled(ctx, uid, disabled); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.users {
		if c.users[i].UID == uid {
			c.users[i].Disabled = disabled
			break
		}
	}
	c.mu.Unlock()

	action := audit.ActionDisableUser
	if !disabled {
		action = audit.ActionEnableUser
	}
	c.auditor.Log(ctx, action, &audit.Target{Type: "user", ID: uid}, nil)
	return nil
}

// RemoveProfile deletes a user's profile record. The credential is left in
// place; only the directory row goes away. confirmed must be true.
func (c *Console) RemoveProfile(ctx context.Context, uid, email string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	if err := c.requireAdmin(ctx); err != nil {
		return err
	}
	if err := c.profiles.Delete(ctx, uid); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.users {
		if c.users[i].UID == uid {
			c.users = append(c.users[:i], c.users[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.auditor.Log(ctx, audit.ActionRemoveProfile, &audit.Target{Type: "user", ID: uid}, map[string]any{"email": email})
	return nil
}

// OpenAuditTab loads the first audit page on first activation. Later calls
// return the already held records; the viewer never refreshes on its own.
func (c *Console) OpenAuditTab(ctx context.Context) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if c.auditOpened {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	p, err := c.records.List(ctx, page.Request{})
	if err != nil {
		return fmt.Errorf("console: load audit trail: %w", err)
	}
	c.mu.Lock()
	c.auditOpened = true
	c.auditPage = p.Records
	c.auditCursor = p.NextCursor
	c.mu.Unlock()
	return nil
}

// AuditRecords returns a copy of the held audit page(s).
func (c *Console) AuditRecords() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.Record, len(c.auditPage))
	copy(out, c.auditPage)
	return out
}

// HasMoreAudit reports whether a further audit page exists.
func (c *Console) HasMoreAudit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auditCursor != ""
}

// LoadMoreAudit appends the next audit page.
func (c *Console) LoadMoreAudit(ctx context.Context) error {
	c.mu.Lock()
	if !c.auditOpened {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if c.auditCursor == "" {
		c.mu.Unlock()
		return nil
	}
	cursor := c.auditCursor
	c.mu.Unlock()

	p, err := c.records.List(ctx, page.Request{Cursor: cursor})
	if err != nil {
		return fmt.Errorf("console: load audit trail: %w", err)
	}
	c.mu.Lock()
	c.auditPage = append(c.auditPage, p.Records...)
	c.auditCursor = p.NextCursor
	c.mu.Unlock()
	return nil
}
