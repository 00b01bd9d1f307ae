package types

import "time"

// SessionContext is produced once per successful login and held by the UI
// for the lifetime of a session. It carries no secret material.
//
// Role is informational only: it may gate which actions a UI offers, but every
// privileged call re-resolves the actor's current role from the user store.
type SessionContext struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Login     string    `json:"login"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
}
