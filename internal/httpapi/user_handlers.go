package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fortresslabs/identity/internal/auth"
)

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.engine.Authorize(r.Context(), user.ID, auth.ActionListUsers, ""); err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	params := auth.ListUsersParams{
		Search: q.Get("search"),
		Role:   q.Get("role"),
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		params.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil {
		params.PerPage = v
	}

	page, err := a.svc.ListUsers(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.svc.RecordAccess(r.Context(), user.ID, auth.EventUsersListed, map[string]any{
		"page":     page.Page,
		"per_page": page.PerPage,
	}, requestMeta(r))
	writeSuccess(w, http.StatusOK, page)
}

// handleUserResource dispatches /api/v1/users/{id} and
// /api/v1/users/{id}/roles[/{role}]. Authorization runs before the
// target lookup, so a caller without access sees 403 whether or not the
// target exists.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireUser(w, r)
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/users/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || parts[0] == "" {
		writeFailure(w, http.StatusNotFound, codeNotFound, "Resource not found.")
		return
	}
	targetID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.showUser(w, r, actor, targetID)
		case http.MethodPut, http.MethodPatch:
			a.updateUser(w, r, actor, targetID)
		case http.MethodDelete:
			a.deleteUser(w, r, actor, targetID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "roles":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.grantRole(w, r, actor, targetID)
	case len(parts) == 3 && parts[1] == "roles":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.revokeRole(w, r, actor, targetID, parts[2])
	default:
		writeFailure(w, http.StatusNotFound, codeNotFound, "Resource not found.")
	}
}

func (a *API) showUser(w http.ResponseWriter, r *http.Request, actor *auth.User, targetID string) {
	if err := a.engine.Authorize(r.Context(), actor.ID, auth.ActionViewUser, targetID); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := a.svc.GetUser(r.Context(), targetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	roles, err := a.graph.RolesForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
	}
	a.svc.RecordAccess(r.Context(), actor.ID, auth.EventUserViewed, map[string]any{"user_id": user.ID}, requestMeta(r))
	writeSuccess(w, http.StatusOK, map[string]any{"user": user, "roles": roleNames})
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, actor *auth.User, targetID string) {
	if err := a.engine.Authorize(r.Context(), actor.ID, auth.ActionUpdateUser, targetID); err != nil {
		writeError(w, r, err)
		return
	}
	var in auth.UpdateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body.")
		return
	}
	user, err := a.svc.UpdateUser(r.Context(), actor.ID, targetID, in, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, actor *auth.User, targetID string) {
	if err := a.engine.Authorize(r.Context(), actor.ID, auth.ActionDeleteUser, targetID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.svc.DeleteUser(r.Context(), actor.ID, targetID, requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"message": "User deleted."})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (a *API) grantRole(w http.ResponseWriter, r *http.Request, actor *auth.User, targetID string) {
	if err := a.engine.Authorize(r.Context(), actor.ID, auth.ActionAssignRoles, targetID); err != nil {
		writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Role) == "" {
		writeFailure(w, http.StatusBadRequest, codeInvalidInput, "Role name is required.")
		return
	}
	role := strings.TrimSpace(req.Role)
	if err := a.graph.GrantRole(r.Context(), targetID, role); err != nil {
		writeError(w, r, err)
		return
	}
	a.svc.RecordAccess(r.Context(), actor.ID, auth.EventRoleGranted, map[string]any{
		"user_id": targetID,
		"role":    role,
	}, requestMeta(r))
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Role granted."})
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request, actor *auth.User, targetID, role string) {
	if err := a.engine.Authorize(r.Context(), actor.ID, auth.ActionAssignRoles, targetID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.graph.RevokeRole(r.Context(), targetID, role); err != nil {
		writeError(w, r, err)
		return
	}
	a.svc.RecordAccess(r.Context(), actor.ID, auth.EventRoleRevoked, map[string]any{
		"user_id": targetID,
		"role":    role,
	}, requestMeta(r))
	writeSuccess(w, http.StatusOK, map[string]any{"message": "Role revoked."})
}
