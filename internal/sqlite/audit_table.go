package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

// DefaultAuditLimit caps an audit listing when the query sets no limit.
const DefaultAuditLimit = 100

// AuditTable appends to and reads the audit log inside a caller-supplied
// unit of work. Rows are never updated or deleted; triggers reject both.
type AuditTable struct{}

// NewAuditTable returns the audit log accessor.
func NewAuditTable() AuditTable {
	return AuditTable{}
}

// Append records one event in the caller's unit of work. actor is nil for
// system actions. payload is encoded as JSON; nil becomes an empty object.
// The event timestamp is assigned by the store.
func (AuditTable) Append(ctx context.Context, q DBTX, actor *int64, entityType, entityID, action string, payload any) (types.AuditEvent, error) {
	if entityType == "" || action == "" {
		return types.AuditEvent{}, types.ErrInvalidInput
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return types.AuditEvent{}, err
	}

	var uid sql.NullInt64
	if actor != nil {
		uid = sql.NullInt64{Int64: *actor, Valid: true}
	}

	ev := types.AuditEvent{
		UserID:     actor,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Payload:    raw,
	}

	var ts string
	err = q.QueryRowContext(ctx,
		`INSERT INTO audit_log (user_id, entity_type, entity_id, action, payload_json)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id, event_ts`,
		uid, entityType, entityID, action, string(raw),
	).Scan(&ev.ID, &ts)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("appending audit event %s: %w", action, err)
	}
	if ev.EventTS, err = parseTS(ts); err != nil {
		return types.AuditEvent{}, err
	}
	return ev, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("audit payload is not valid JSON: %w", types.ErrInvalidInput)
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding audit payload: %w", err)
	}
	return raw, nil
}

// List returns events matching query, newest first, joined with the actor's
// login when the actor still exists.
func (AuditTable) List(ctx context.Context, q DBTX, query types.AuditQuery) ([]types.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if query.Action != "" {
		where = append(where, "a.action = ?")
		args = append(args, query.Action)
	}
	if query.EntityType != "" {
		where = append(where, "a.entity_type = ?")
		args = append(args, query.EntityType)
	}
	if query.UserID != nil {
		where = append(where, "a.user_id = ?")
		args = append(args, *query.UserID)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	stmt := `SELECT a.id, a.event_ts, a.user_id, a.entity_type, a.entity_id, a.action, a.payload_json,
	                COALESCE(u.login, '')
	         FROM audit_log a
	         LEFT JOIN users u ON u.id = a.user_id`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY a.event_ts DESC, a.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	entries := []types.AuditEntry{}
	for rows.Next() {
		var (
			e       types.AuditEntry
			ts      string
			uid     sql.NullInt64
			payload string
		)
		if err := rows.Scan(&e.ID, &ts, &uid, &e.EntityType, &e.EntityID, &e.Action, &payload, &e.ActorLogin); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if e.EventTS, err = parseTS(ts); err != nil {
			return nil, err
		}
		if uid.Valid {
			id := uid.Int64
			e.UserID = &id
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return entries, nil
}
