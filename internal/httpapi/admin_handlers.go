package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"investsmart.app/internal/console"
	"investsmart.app/internal/directory"
	"investsmart.app/internal/identity"
	"investsmart.app/internal/page"
	"investsmart.app/internal/rbac"
)

type setDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// requireAdmin re-resolves the caller's role with a forced refresh before any
// admin endpoint does work. Resolution failure denies.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not signed in")
		return false
	}
	role, err := a.resolver.Resolve(r.Context(), id)
	if err != nil || role != rbac.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}

	q := r.URL.Query()
	search := strings.TrimSpace(q.Get("search"))
	cursor := strings.TrimSpace(q.Get("cursor"))
	if search != "" && cursor != "" {
		writeError(w, r, http.StatusBadRequest, "search and cursor are mutually exclusive")
		return
	}

	if search != "" {
		matches, err := a.profiles.SearchByEmail(r.Context(), strings.ToLower(search), page.DefaultSize)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "directory search failed")
			return
		}
		writeJSON(w, http.StatusOK, directory.Page{Profiles: matches})
		return
	}

	if cursor == "" {
		// First load mirrors opening the console: the operator's profile is
		// upserted and the view is audited.
		if err := a.console.Open(r.Context()); err != nil {
			handleConsoleError(w, r, err)
			return
		}
	}
	p, err := a.profiles.List(r.Context(), page.Request{Cursor: cursor})
	if err != nil {
		handlePageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleAdminUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 2 && parts[1] == "disabled":
		a.setDisabled(w, r, parts[0])
	case len(parts) == 1:
		a.removeProfile(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) setDisabled(w http.ResponseWriter, r *http.Request, uid string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req setDisabledRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.console.SetDisabled(r.Context(), uid, req.Disabled); err != nil {
		handleConsoleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeProfile(w http.ResponseWriter, r *http.Request, uid string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	confirmed := strings.EqualFold(r.Header.Get("X-Confirm"), "true")
	email := r.URL.Query().Get("email")
	if err := a.console.RemoveProfile(r.Context(), uid, email, confirmed); err != nil {
		handleConsoleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	p, err := a.records.List(r.Context(), page.Request{Cursor: cursor})
	if err != nil {
		handlePageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func handleConsoleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, console.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "admin role required")
	case errors.Is(err, console.ErrNotConfirmed):
		writeError(w, r, http.StatusBadRequest, "confirmation required")
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "console operation failed")
	}
}

func handlePageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, page.ErrCursorMismatch), errors.Is(err, page.ErrInvalidCursor):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "pagination failed")
	}
}
