// Package audit appends immutable action records to a durable log. Logging is
// advisory with respect to the action it accompanies: a write failure is
// warned about locally and swallowed, never propagated.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"investsmart.app/internal/identity"
	"investsmart.app/internal/obs"
	"investsmart.app/internal/page"
	"investsmart.app/internal/rbac"
)

// Recognized action names. The set is closed: adding an audited action means
// extending this list, and anything outside it is silently dropped so a buggy
// or compromised caller cannot inject arbitrary event names into the log.
const (
	ActionSignIn            = "auth_sign_in"
	ActionSignInEmail       = "auth_sign_in_email"
	ActionSignInGoogle      = "auth_sign_in_google"
	ActionSignInAdminGoogle = "auth_sign_in_admin_google"
	ActionSignUpEmail       = "auth_sign_up_email"
	ActionSignOut           = "auth_sign_out"
	ActionCreateCoin        = "admin_create_coin"
	ActionUpdateCoin        = "admin_update_coin"
	ActionDeleteCoin        = "admin_delete_coin"
	ActionCreateBanner      = "admin_create_banner"
	ActionUpdateBanner      = "admin_update_banner"
	ActionDeleteBanner      = "admin_delete_banner"
	ActionDisableUser       = "admin_disable_user"
	ActionEnableUser        = "admin_enable_user"
	ActionRemoveProfile     = "admin_remove_profile"
	ActionDashboardView     = "dashboard_view"
)

var allowed = map[string]struct{}{
	ActionSignIn:            {},
	ActionSignInEmail:       {},
	ActionSignInGoogle:      {},
	ActionSignInAdminGoogle: {},
	ActionSignUpEmail:       {},
	ActionSignOut:           {},
	ActionCreateCoin:        {},
	ActionUpdateCoin:        {},
	ActionDeleteCoin:        {},
	ActionCreateBanner:      {},
	ActionUpdateBanner:      {},
	ActionDeleteBanner:      {},
	ActionDisableUser:       {},
	ActionEnableUser:        {},
	ActionRemoveProfile:     {},
	ActionDashboardView:     {},
}

// Allowed reports whether the action name is in the closed allow-list.
func Allowed(action string) bool {
	_, ok := allowed[action]
	return ok
}

// Actions returns the allow-list in sorted order.
func Actions() []string {
	out := make([]string, 0, len(allowed))
	for a := range allowed {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// VerifyActions checks call-site action names against the allow-list. Wired
// at startup so a renamed constant fails loudly instead of silently dropping
// records forever.
func VerifyActions(actions ...string) error {
	var unknown []string
	for _, a := range actions {
		if !Allowed(a) {
			unknown = append(unknown, a)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("audit: actions outside the allow-list: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Target identifies the entity an action was applied to.
type Target struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Actor captures who performed the action and with what privilege at that
// moment. Role is resolved at write time, never carried over from an earlier
// observation.
type Actor struct {
	UID   string    `json:"uid"`
	Email string    `json:"email,omitempty"`
	Role  rbac.Role `json:"role"`
}

// Record is one append-only audit entry. TS is assigned by the store at
// write time; callers cannot backdate.
type Record struct {
	ID     string         `json:"id"`
	TS     time.Time      `json:"ts"`
	Action string         `json:"action"`
	Actor  Actor          `json:"actor"`
	Target *Target        `json:"target,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Page is one slice of the log in descending ts order.
type Page struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// Store persists audit records. Append assigns ID and TS; no update or delete
// operation exists.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, req page.Request) (Page, error)
}

// Logger writes allow-listed audit records on behalf of the authenticated
// identity attached to the context.
type Logger struct {
	resolver *rbac.Resolver
	store    Store
}

// NewLogger constructs a Logger.
func NewLogger(resolver *rbac.Resolver, store Store) (*Logger, error) {
	if resolver == nil {
		return nil, errors.New("audit: resolver is required")
	}
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Logger{resolver: resolver, store: store}, nil
}

// Log appends one record. Best effort: it no-ops when no identity is present
// or the action is not recognized, and swallows every failure after that.
// The triggering business action must never block or fail on audit problems.
func (l *Logger) Log(ctx context.Context, action string, target *Target, meta map[string]any) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		obs.AuditDropped("no_identity")
		return
	}
	if !Allowed(action) {
		obs.AuditDropped("not_allowed")
		return
	}

	// Forced refresh: the logged role must reflect current privilege, not a
	// role the user held minutes ago.
	role, err := l.resolver.Resolve(ctx, id)
	if err != nil {
		obs.Warn("audit log failed", map[string]any{"action": action, "error": err.Error()})
		obs.AuditDropped("resolve_error")
		return
	}

	rec := &Record{
		Action: action,
		Actor:  Actor{UID: id.UID, Email: id.Email, Role: role},
		Target: target,
		Meta:   meta,
	}
	if err := l.store.Append(ctx, rec); err != nil {
		obs.Warn("audit log failed", map[string]any{"action": action, "error": err.Error()})
		obs.AuditDropped("store_error")
		return
	}
	obs.AuditWritten()
}
