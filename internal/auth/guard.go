// Package auth turns credentials into sessions and gates privileged
// operations on the acting user's current role. Every privileged call
// reloads the actor from the user store; the role carried by a
// SessionContext is never consulted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/epirec/internal/logging"
	"github.com/mesh-intelligence/epirec/internal/permission"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// Guard checks that an actor may perform a privileged action.
type Guard struct {
	users sqlite.UsersTable
	audit sqlite.AuditTable
	log   logging.Logger
}

// NewGuard returns a Guard that logs denials to log.
func NewGuard(log logging.Logger) *Guard {
	return &Guard{
		users: sqlite.NewUsersTable(),
		audit: sqlite.NewAuditTable(),
		log:   logging.OrNop(log),
	}
}

type denialPayload struct {
	Reason     string           `json:"reason"`
	Permission types.Permission `json:"permission"`
	Action     string           `json:"action"`
}

// RequireAdmin reloads actorID inside tx and returns it when the actor
// exists, is active, and its current role grants perm. Otherwise it appends
// an access_denied event for entityType and returns an error matching
// types.ErrPermissionDenied that makes Pool.WithTx commit the event before
// failing. action names the operation that was refused.
func (g *Guard) RequireAdmin(ctx context.Context, tx sqlite.DBTX, actorID int64, entityType string, perm types.Permission, action string) (*types.User, error) {
	actor, err := g.users.GetByID(ctx, tx, actorID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if actor != nil && actor.IsActive && permission.HasPermission(actor.Role, perm) {
		return actor, nil
	}

	payload := denialPayload{Reason: types.ReasonAdminRequired, Permission: perm, Action: action}
	id := actorID
	if _, err := g.audit.Append(ctx, tx, &id, entityType, strconv.FormatInt(actorID, 10), types.ActionAccessDenied, payload); err != nil {
		return nil, err
	}
	g.log.Warn(ctx, "permission denied", "actor_id", actorID, "permission", perm, "action", action)
	return nil, sqlite.CommitAndFail(fmt.Errorf("%s requires %s: %w", action, perm, types.ErrPermissionDenied))
}
