package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/fortresslabs/identity/internal/auth"
	"github.com/fortresslabs/identity/internal/ids"
)

type auditStore struct{ db *sql.DB }

// Append writes one immutable row. There is no update or delete path
// anywhere in this package.
func (s *auditStore) Append(ctx context.Context, e *auth.AuditEvent) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = raw
	}
	var userID any
	if e.UserID != "" {
		userID = e.UserID
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, user_id, action, details, ip_address, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, userID, e.Action, details, e.IPAddress, e.UserAgent, e.CreatedAt)
	return err
}
