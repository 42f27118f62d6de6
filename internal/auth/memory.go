package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests and by the server
// when no database DSN is configured. A single mutex serializes all
// mutations, which gives Rotate and RevokeAllForUser the same atomicity
// the SQL store gets from transactions.
type MemoryStore struct {
	mu sync.RWMutex

	users     map[string]*User
	roles     map[string]*Role
	perms     map[string]*Permission
	userRoles map[string]map[string]struct{}
	rolePerms map[string]map[string]struct{}
	tokens    map[string]*Token
	audit     []AuditEvent
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		roles:     make(map[string]*Role),
		perms:     make(map[string]*Permission),
		userRoles: make(map[string]map[string]struct{}),
		rolePerms: make(map[string]map[string]struct{}),
		tokens:    make(map[string]*Token),
	}
}

func (m *MemoryStore) Users() UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Roles() RoleStore             { return (*memRoles)(m) }
func (m *MemoryStore) Permissions() PermissionStore { return (*memPerms)(m) }
func (m *MemoryStore) Tokens() TokenStore           { return (*memTokens)(m) }
func (m *MemoryStore) Audit() AuditStore            { return (*memAudit)(m) }

// AuditEvents returns a snapshot of appended events, oldest first.
// Test helper; nothing in the core reads audit back.
func (m *MemoryStore) AuditEvents() []AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEvent, len(m.audit))
	copy(out, m.audit)
	return out
}

// Users -------------------------------------------------------------------

type memUsers MemoryStore

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(ctx context.Context, params ListUsersParams) (UserPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*User
	for _, u := range m.users {
		if params.Search != "" {
			needle := strings.ToLower(params.Search)
			if !strings.Contains(strings.ToLower(u.Name), needle) &&
				!strings.Contains(u.Email, needle) {
				continue
			}
		}
		if params.Role != "" && !m.userHasRoleNameLocked(u.ID, params.Role) {
			continue
		}
		cp := *u
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	page := UserPage{Total: len(matched), Page: params.Page, PerPage: params.PerPage}
	start := (params.Page - 1) * params.PerPage
	if start < len(matched) {
		end := start + params.PerPage
		if end > len(matched) {
			end = len(matched)
		}
		page.Users = matched[start:end]
	}
	return page, nil
}

func (m *memUsers) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.users {
		if id != u.ID && existing.Email == u.Email {
			return ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) SetEmailVerified(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerifiedAt = &at
	u.UpdatedAt = at
	return nil
}

func (m *memUsers) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	delete(m.users, userID)
	delete(m.userRoles, userID)
	return nil
}

func (m *memUsers) userHasRoleNameLocked(userID, roleName string) bool {
	for roleID := range m.userRoles[userID] {
		if role, ok := m.roles[roleID]; ok && role.Name == roleName {
			return true
		}
	}
	return false
}

// Roles -------------------------------------------------------------------

type memRoles MemoryStore

func (m *memRoles) Create(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) Attach(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[string]struct{})
	}
	m.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (m *memRoles) Detach(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userRoles[userID], roleID)
	return nil
}

func (m *memRoles) RolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Role
	for roleID := range m.userRoles[userID] {
		if role, ok := m.roles[roleID]; ok {
			cp := *role
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Permissions -------------------------------------------------------------

type memPerms MemoryStore

func (m *memPerms) Ensure(ctx context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if m.findByNameLocked(p.Name) != nil {
			continue
		}
		cp := p
		if cp.ID == "" {
			cp.ID = "perm-" + p.Name
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		m.perms[cp.ID] = &cp
	}
	return nil
}

func (m *memPerms) FindByName(ctx context.Context, name string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.findByNameLocked(name); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memPerms) Attach(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolePerms[roleID] == nil {
		m.rolePerms[roleID] = make(map[string]struct{})
	}
	m.rolePerms[roleID][permissionID] = struct{}{}
	return nil
}

func (m *memPerms) Detach(ctx context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rolePerms[roleID], permissionID)
	return nil
}

func (m *memPerms) ForRole(ctx context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for permID := range m.rolePerms[roleID] {
		if p, ok := m.perms[permID]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memPerms) findByNameLocked(name string) *Permission {
	for _, p := range m.perms {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Tokens ------------------------------------------------------------------

type memTokens MemoryStore

func (m *memTokens) Create(ctx context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.ID] = &cp
	return nil
}

func (m *memTokens) Find(ctx context.Context, id string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) Rotate(ctx context.Context, prevID string, next *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.tokens[prevID]
	if !ok || prev.Revoked || prev.UserID != next.UserID {
		return ErrInvalidToken
	}
	cp := *next
	m.tokens[next.ID] = &cp
	prev.Revoked = true
	return nil
}

func (m *memTokens) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			count++
		}
	}
	return count, nil
}

func (m *memTokens) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			count++
		}
	}
	return count, nil
}

// Audit -------------------------------------------------------------------

type memAudit MemoryStore

func (m *memAudit) Append(ctx context.Context, e *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}
