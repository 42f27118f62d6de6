package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fortresslabs/identity/internal/auth"
)

const testPassword = "Sup3r-Secret-Pass!"

func newTestAPI(t *testing.T) (*API, *auth.MemoryStore) {
	t.Helper()
	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	graph := auth.NewGraph(store)
	if err := graph.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return New(svc, auth.NewEngine(store), graph, ReadyProbe{}, "test"), store
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Timestamp string `json:"timestamp"`
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode envelope from %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, env
}

func registerAndLogin(t *testing.T, h http.Handler, name, email string) (userID, token string) {
	t.Helper()
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":                  name,
		"email":                 email,
		"password":              testPassword,
		"password_confirmation": testPassword,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}

	rec, env = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var data struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token struct {
			Token string `json:"token"`
		} `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return data.User.ID, data.Token.Token
}

func promoteToAdmin(t *testing.T, store *auth.MemoryStore, userID string) {
	t.Helper()
	if err := auth.NewGraph(store).GrantRole(context.Background(), userID, auth.RoleAdmin); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
}

func TestAuthFlow(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	_, token := registerAndLogin(t, h, "Alice", "alice@example.com")

	// me
	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("me: status %d body %s", rec.Code, rec.Body.String())
	}
	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.Email != "alice@example.com" {
		t.Fatalf("me returned %q", me.User.Email)
	}
	if len(me.Roles) != 1 || me.Roles[0] != auth.RoleUser {
		t.Fatalf("expected default role, got %v", me.Roles)
	}

	// refresh rotates: the new token works, the presented one stops
	rec, env = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	var refreshed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &refreshed); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if refreshed.Token == token {
		t.Fatal("refresh returned the presented token")
	}

	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != codeUnauthenticated {
		t.Fatalf("rotated-out token: status %d body %s", rec.Code, rec.Body.String())
	}

	// logout kills the replacement too
	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/auth/logout", refreshed.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body.String())
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", refreshed.Token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token alive after logout: status %d", rec.Code)
	}
}

func TestLoginSetsHttpOnlyCookie(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	registerAndLogin(t, h, "Alice", "alice@example.com")

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]string{"email": "alice@example.com", "password": testPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no token cookie set")
	}
	if !cookie.HttpOnly {
		t.Fatal("token cookie is not HttpOnly")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie SameSite = %v, want Strict", cookie.SameSite)
	}

	// The cookie authenticates on its own, no header needed.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie auth: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginFailureIsUniform(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	registerAndLogin(t, h, "Alice", "alice@example.com")

	for _, creds := range []map[string]string{
		{"email": "nobody@example.com", "password": testPassword},
		{"email": "alice@example.com", "password": "Wrong-Passw0rd!"},
	} {
		rec, env := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", creds)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("login %v: status %d", creds, rec.Code)
		}
		if env.Error == nil || env.Error.Code != codeInvalidCredentials {
			t.Fatalf("login %v: body %s", creds, rec.Body.String())
		}
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	registerAndLogin(t, h, "Alice", "alice@example.com")

	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":                  "Impostor",
		"email":                 "alice@example.com",
		"password":              testPassword,
		"password_confirmation": testPassword,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate register: status %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != codeRegistrationFailed {
		t.Fatalf("duplicate register: body %s", rec.Body.String())
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	api, store := newTestAPI(t)
	h := api.Handler()

	_, memberToken := registerAndLogin(t, h, "Member", "member@example.com")
	adminID, adminToken := registerAndLogin(t, h, "Admin", "admin@example.com")
	promoteToAdmin(t, store, adminID)

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/users", memberToken, nil)
	if rec.Code != http.StatusForbidden || env.Error == nil || env.Error.Code != codeForbidden {
		t.Fatalf("member list: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/users?per_page=1&page=2", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: status %d body %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Users   []json.RawMessage `json:"users"`
		Total   int               `json:"total"`
		Page    int               `json:"page"`
		PerPage int               `json:"per_page"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 || len(page.Users) != 1 || page.Page != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestViewUserSelfOrAdmin(t *testing.T) {
	api, store := newTestAPI(t)
	h := api.Handler()

	memberID, memberToken := registerAndLogin(t, h, "Member", "member@example.com")
	otherID, _ := registerAndLogin(t, h, "Other", "other@example.com")
	adminID, adminToken := registerAndLogin(t, h, "Admin", "admin@example.com")
	promoteToAdmin(t, store, adminID)

	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/users/"+memberID, memberToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("view self: status %d body %s", rec.Code, rec.Body.String())
	}

	// Authorization precedes the lookup: a member probing another id
	// gets 403 whether or not the account exists.
	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/users/"+otherID, memberToken, nil)
	if rec.Code != http.StatusForbidden || env.Error.Code != codeForbidden {
		t.Fatalf("view other: status %d body %s", rec.Code, rec.Body.String())
	}
	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/users/no-such-id", memberToken, nil)
	if rec.Code != http.StatusForbidden || env.Error.Code != codeForbidden {
		t.Fatalf("probe unknown id: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/users/"+otherID, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin view: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCannotDeleteSelf(t *testing.T) {
	api, store := newTestAPI(t)
	h := api.Handler()

	adminID, adminToken := registerAndLogin(t, h, "Admin", "admin@example.com")
	promoteToAdmin(t, store, adminID)

	rec, env := doJSON(t, h, http.MethodDelete, "/api/v1/users/"+adminID, adminToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self delete: status %d body %s", rec.Code, rec.Body.String())
	}
	if env.Error == nil || env.Error.Code != codeCannotDeleteSelf {
		t.Fatalf("self delete: body %s", rec.Body.String())
	}
}

func TestDeleteUserKillsTheirSession(t *testing.T) {
	api, store := newTestAPI(t)
	h := api.Handler()

	memberID, memberToken := registerAndLogin(t, h, "Member", "member@example.com")
	adminID, adminToken := registerAndLogin(t, h, "Admin", "admin@example.com")
	promoteToAdmin(t, store, adminID)

	rec, _ := doJSON(t, h, http.MethodDelete, "/api/v1/users/"+memberID, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", memberToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user's token still works: status %d", rec.Code)
	}
}

func TestRoleGrantAndRevoke(t *testing.T) {
	api, store := newTestAPI(t)
	h := api.Handler()

	memberID, memberToken := registerAndLogin(t, h, "Member", "member@example.com")
	adminID, adminToken := registerAndLogin(t, h, "Admin", "admin@example.com")
	promoteToAdmin(t, store, adminID)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/users/"+memberID+"/roles", adminToken, map[string]string{"role": auth.RoleAdmin})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: status %d body %s", rec.Code, rec.Body.String())
	}

	// No permission cache: the member can list users immediately.
	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/users", memberToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list after grant: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/v1/users/"+memberID+"/roles/"+auth.RoleAdmin, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status %d body %s", rec.Code, rec.Body.String())
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/users", memberToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("list after revoke: status %d body %s", rec.Code, rec.Body.String())
	}

	// Admins manage others, never themselves.
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/users/"+adminID+"/roles", adminToken, map[string]string{"role": auth.RoleUser})
	if rec.Code != http.StatusForbidden || env.Error.Code != codeCannotDeleteSelf {
		t.Fatalf("self role grant: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, env = doJSON(t, h, http.MethodPost, "/api/v1/users/"+memberID+"/roles", adminToken, map[string]string{"role": "no-such-role"})
	if rec.Code != http.StatusNotFound || env.Error.Code != codeNotFound {
		t.Fatalf("unknown role: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateUserProfile(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	memberID, memberToken := registerAndLogin(t, h, "Member", "member@example.com")

	rec, env := doJSON(t, h, http.MethodPut, "/api/v1/users/"+memberID, memberToken, map[string]string{"name": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	var data struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if data.User.Name != "Renamed" {
		t.Fatalf("name not updated: %q", data.User.Name)
	}
}

func TestChangePasswordEndsAllSessions(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	_, token := registerAndLogin(t, h, "Alice", "alice@example.com")

	const nextPassword = "An0ther-Secret!!"
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/auth/password", token, map[string]string{
		"current_password": "Wrong-Passw0rd!",
		"password":         nextPassword,
	})
	if rec.Code != http.StatusUnauthorized || env.Error.Code != codeInvalidCredentials {
		t.Fatalf("wrong current password: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/auth/password", token, map[string]string{
		"current_password": testPassword,
		"password":         nextPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("session survived password change: status %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": nextPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/users", "/api/v1/users/some-id"} {
		rec, env := doJSON(t, h, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		if env.Error == nil || env.Error.Code != codeUnauthenticated {
			t.Fatalf("%s: body %s", path, rec.Body.String())
		}
	}

	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", rec.Code)
	}
}

func TestRegisterRateLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	var last *httptest.ResponseRecorder
	var lastEnv testEnvelope
	for i := 0; i < 4; i++ {
		last, lastEnv = doJSON(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"name":                  "User",
			"email":                 fmt.Sprintf("user%d@example.com", i),
			"password":              testPassword,
			"password_confirmation": testPassword,
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("4th register: status %d body %s", last.Code, last.Body.String())
	}
	if lastEnv.Error == nil || lastEnv.Error.Code != codeRateLimited {
		t.Fatalf("4th register: body %s", last.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("health: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
}
