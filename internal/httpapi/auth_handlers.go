package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/fortresslabs/identity/internal/audit"
	"github.com/fortresslabs/identity/internal/auth"
	"github.com/fortresslabs/identity/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.throttle(w, r, a.loginLimiter) {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body.")
		return
	}

	user, raw, token, err := a.svc.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.ObserveLogin("failed")
		}
		writeError(w, r, err)
		return
	}
	obs.ObserveLogin("ok")
	obs.ObserveTokensIssued(1)
	_ = audit.LogEvent(r.Context(), auth.EventUserLogin, map[string]any{"user_id": user.ID})

	a.setTokenCookie(w, raw, token.ExpiresAt)
	writeSuccess(w, http.StatusOK, map[string]any{
		"user":  user,
		"token": tokenPayload{Token: raw, ExpiresAt: token.ExpiresAt, ExpiresIn: int(time.Until(token.ExpiresAt).Seconds())},
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.throttle(w, r, a.registerLimiter) {
		return
	}
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body.")
		return
	}

	user, err := a.svc.Register(r.Context(), req, requestMeta(r))
	if err != nil {
		// Validation detail is safe to return; a duplicate email is
		// folded into the same failure code so registration does not
		// become an account oracle beyond what the flow requires.
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeFailure(w, http.StatusUnprocessableEntity, codeRegistrationFailed, userFacingMessage(err))
		case errors.Is(err, auth.ErrConflict):
			writeFailure(w, http.StatusUnprocessableEntity, codeRegistrationFailed, "Registration failed. Please try again.")
		default:
			writeError(w, r, err)
		}
		return
	}
	_ = audit.LogEvent(r.Context(), auth.EventUserRegistered, map[string]any{"user_id": user.ID})

	writeSuccess(w, http.StatusCreated, map[string]any{
		"user":    user,
		"message": "Registration successful. Please log in.",
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.throttle(w, r, a.refreshLimiter) {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	presented, _ := auth.TokenFromContext(r.Context())

	raw, token, err := a.svc.Refresh(r.Context(), user, presented, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs.ObserveTokensIssued(1)
	_ = audit.LogEvent(r.Context(), auth.EventTokenRefreshed, nil)

	a.setTokenCookie(w, raw, token.ExpiresAt)
	writeSuccess(w, http.StatusOK, tokenPayload{
		Token:     raw,
		ExpiresAt: token.ExpiresAt,
		ExpiresIn: int(time.Until(token.ExpiresAt).Seconds()),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	count, err := a.svc.Logout(r.Context(), user, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs.ObserveTokensRevoked(count)
	_ = audit.LogEvent(r.Context(), auth.EventUserLogout, map[string]any{"revoked": count})

	a.clearTokenCookie(w)
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Logged out successfully."})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body.")
		return
	}
	if err := a.svc.ChangePassword(r.Context(), user, req.CurrentPassword, req.Password, requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), auth.EventUserPasswordChanged, nil)

	// Every session died with the old password, including this one.
	a.clearTokenCookie(w)
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Password changed. Please log in again."})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	roles, err := a.graph.RolesForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perms, err := a.engine.Permissions(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"user":        user,
		"roles":       roleNames,
		"permissions": perms,
	})
}

func (a *API) setTokenCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		Secure:   a.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   a.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: audit.RequestIDFromContext(r.Context()),
	}
}
