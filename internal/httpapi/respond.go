package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fortresslabs/identity/internal/auth"
	"github.com/fortresslabs/identity/internal/obs"
)

// Stable machine-readable error codes. The set is closed; handlers map
// core errors onto it and never invent new codes.
const (
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeUnauthenticated    = "UNAUTHENTICATED"
	codeForbidden          = "FORBIDDEN"
	codeCannotDeleteSelf   = "CANNOT_DELETE_SELF"
	codeRegistrationFailed = "REGISTRATION_FAILED"
	codeNotFound           = "NOT_FOUND"
	codeConflict           = "CONFLICT"
	codeInvalidInput       = "INVALID_INPUT"
	codeRateLimited        = "RATE_LIMITED"
	codeInternal           = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the uniform response shape: success flag, data or error,
// ISO-8601 timestamp.
type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{
		Success:   false,
		Error:     &errorBody{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError maps a core error to its stable status and code. Anything
// unrecognized is an internal fault: logged, surfaced generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeFailure(w, http.StatusUnauthorized, codeInvalidCredentials, "Invalid email or password.")
	case errors.Is(err, auth.ErrInvalidToken):
		writeFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Unauthenticated.")
	case errors.Is(err, auth.ErrSelfAction):
		writeFailure(w, http.StatusForbidden, codeCannotDeleteSelf, "This action is not permitted on your own account.")
	case errors.Is(err, auth.ErrForbidden):
		writeFailure(w, http.StatusForbidden, codeForbidden, "Unauthorized to access this resource.")
	case errors.Is(err, auth.ErrNotFound):
		writeFailure(w, http.StatusNotFound, codeNotFound, "Resource not found.")
	case errors.Is(err, auth.ErrConflict):
		writeFailure(w, http.StatusConflict, codeConflict, "Resource already exists.")
	case errors.Is(err, auth.ErrInvalidInput):
		writeFailure(w, http.StatusUnprocessableEntity, codeInvalidInput, userFacingMessage(err))
	default:
		obs.LogRequest(map[string]any{
			"level":  "error",
			"msg":    "request failed",
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		writeFailure(w, http.StatusInternalServerError, codeInternal, "Internal server error.")
	}
}

// userFacingMessage strips the package prefix from validation errors so
// the detail reads cleanly, e.g. "invalid input: name is required".
func userFacingMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), "auth: ")
	if msg == "" {
		return "Invalid input."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeFailure(w, http.StatusMethodNotAllowed, codeInvalidInput, "Method not allowed.")
}
