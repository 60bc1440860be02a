package httpapi

import (
	"errors"
	"net/http"

	"investsmart.app/internal/flow"
	"investsmart.app/internal/identity"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string `json:"token"`
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Route string `json:"route"`
}

func sessionPayload(s flow.Session) sessionResponse {
	return sessionResponse{
		Token: s.Identity.Token.Raw,
		UID:   s.Identity.UID,
		Email: s.Identity.Email,
		Role:  string(s.Role),
		Route: string(s.Route),
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.flow.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			writeError(w, r, http.StatusBadRequest, "valid email and password are required")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.flow.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not signed in")
		return
	}
	if err := a.flow.SignOut(r.Context(), id); err != nil {
		writeError(w, r, http.StatusInternalServerError, "sign-out failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	state := r.URL.Query().Get("state")
	http.Redirect(w, r, a.google.AuthCodeURL(state), http.StatusFound)
}

func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	session, err := a.flow.LoginWithGoogle(r.Context(), code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, flow.ErrProfileProvisioning):
		// The credential exists; the profile record catches up on the next
		// admin-observed login.
		writeError(w, r, http.StatusInternalServerError, "registration incomplete, sign in to finish setup")
	default:
		writeError(w, r, http.StatusInternalServerError, "authentication failed")
	}
}
