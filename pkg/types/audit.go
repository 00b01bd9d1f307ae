package types

import (
	"encoding/json"
	"time"
)

// Audit entity types.
const (
	EntityUser   = "user"
	EntityBackup = "backup"
)

// Audit actions.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionAccessDenied   = "access_denied"
	ActionCreateUser     = "create_user"
	ActionResetPassword  = "reset_password"
	ActionSetActive      = "set_active"
	ActionBootstrapAdmin = "bootstrap_admin"
	ActionBackupCreate   = "backup_create"
	ActionBackupRestore  = "backup_restore"
	ActionAuditList      = "audit_list"

	ActionBackupCreateFailed  = "backup_create_failed"
	ActionBackupRestoreFailed = "backup_restore_failed"
)

// Denial reasons recorded in access_denied payloads.
const (
	ReasonAdminRequired = "admin_required"
)

// AuditEvent is an append-only record of an attempted or completed sensitive
// action. EventTS is assigned by the store at write time. UserID is nil for
// system-triggered actions.
type AuditEvent struct {
	ID         int64           `json:"id"`
	EventTS    time.Time       `json:"event_ts"`
	UserID     *int64          `json:"user_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
}

// AuditEntry is an AuditEvent joined with the acting user's login for display.
// ActorLogin is empty for system actions or actors missing from the store.
type AuditEntry struct {
	AuditEvent
	ActorLogin string `json:"actor_login,omitempty"`
}

// AuditQuery filters an audit listing. Zero values mean "no filter".
type AuditQuery struct {
	Action     string
	EntityType string
	UserID     *int64
	Limit      int
}
