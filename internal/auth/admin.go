package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/epirec/internal/credential"
	"github.com/mesh-intelligence/epirec/internal/logging"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// Admin performs privileged user administration. Every mutating call
// re-checks the actor through the Guard and audits inside the same unit of
// work as the mutation.
type Admin struct {
	pool   *sqlite.Pool
	hasher *credential.Hasher
	guard  *Guard
	users  sqlite.UsersTable
	audit  sqlite.AuditTable
	log    logging.Logger
}

// NewAdmin returns user administration over pool.
func NewAdmin(pool *sqlite.Pool, hasher *credential.Hasher, log logging.Logger) *Admin {
	log = logging.OrNop(log)
	return &Admin{
		pool:   pool,
		hasher: hasher,
		guard:  NewGuard(log),
		users:  sqlite.NewUsersTable(),
		audit:  sqlite.NewAuditTable(),
		log:    log,
	}
}

type createUserPayload struct {
	Login string     `json:"login"`
	Role  types.Role `json:"role"`
}

// CreateUser creates an active user hashed under the default scheme and
// returns its id. An existing login fails with types.ErrConflict and leaves
// no audit row.
func (a *Admin) CreateUser(ctx context.Context, login, password string, role types.Role, actorID int64) (int64, error) {
	var id int64
	err := a.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		if _, err := a.guard.RequireAdmin(ctx, tx, actorID, types.EntityUser, types.PermManageUsers, types.ActionCreateUser); err != nil {
			return err
		}
		if strings.TrimSpace(login) == "" {
			return fmt.Errorf("%w: login must not be empty", types.ErrInvalidInput)
		}
		if !role.Valid() {
			return fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, role)
		}

		if _, err := a.users.GetByLogin(ctx, tx, login); err == nil {
			return fmt.Errorf("login %q: %w", login, types.ErrConflict)
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}

		u, err := a.insertUser(ctx, tx, login, password, role)
		if err != nil {
			return err
		}
		if _, err := a.audit.Append(ctx, tx, &actorID, types.EntityUser, strconv.FormatInt(u.ID, 10), types.ActionCreateUser, createUserPayload{Login: u.Login, Role: u.Role}); err != nil {
			return err
		}
		id = u.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.log.Info(ctx, "user created", "actor_id", actorID, "user_id", id, "role", role)
	return id, nil
}

func (a *Admin) insertUser(ctx context.Context, tx sqlite.DBTX, login, password string, role types.Role) (*types.User, error) {
	hash, err := a.hasher.Hash(password, credential.DefaultScheme)
	if err != nil {
		return nil, err
	}
	u := &types.User{Login: login, PasswordHash: hash, Role: role, IsActive: true}
	if err := a.users.Create(ctx, tx, u); err != nil {
		return nil, err
	}
	return u, nil
}

type resetPasswordPayload struct {
	Deactivate bool `json:"deactivate"`
}

// ResetPassword replaces userID's password and, when deactivate is set,
// also deactivates the account.
func (a *Admin) ResetPassword(ctx context.Context, userID int64, newPassword string, deactivate bool, actorID int64) error {
	err := a.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		if _, err := a.guard.RequireAdmin(ctx, tx, actorID, types.EntityUser, types.PermManageUsers, types.ActionResetPassword); err != nil {
			return err
		}
		if _, err := a.users.GetByID(ctx, tx, userID); err != nil {
			return err
		}

		hash, err := a.hasher.Hash(newPassword, credential.DefaultScheme)
		if err != nil {
			return err
		}
		if err := a.users.UpdatePassword(ctx, tx, userID, hash); err != nil {
			return err
		}
		if deactivate {
			if err := a.users.SetActive(ctx, tx, userID, false); err != nil {
				return err
			}
		}
		_, err = a.audit.Append(ctx, tx, &actorID, types.EntityUser, strconv.FormatInt(userID, 10), types.ActionResetPassword, resetPasswordPayload{Deactivate: deactivate})
		return err
	})
	if err != nil {
		return err
	}
	a.log.Info(ctx, "password reset", "actor_id", actorID, "user_id", userID, "deactivate", deactivate)
	return nil
}

type setActivePayload struct {
	IsActive bool `json:"is_active"`
}

// SetActive activates or deactivates userID.
func (a *Admin) SetActive(ctx context.Context, userID int64, isActive bool, actorID int64) error {
	err := a.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		if _, err := a.guard.RequireAdmin(ctx, tx, actorID, types.EntityUser, types.PermManageUsers, types.ActionSetActive); err != nil {
			return err
		}
		if err := a.users.SetActive(ctx, tx, userID, isActive); err != nil {
			return err
		}
		_, err := a.audit.Append(ctx, tx, &actorID, types.EntityUser, strconv.FormatInt(userID, 10), types.ActionSetActive, setActivePayload{IsActive: isActive})
		return err
	})
	if err != nil {
		return err
	}
	a.log.Info(ctx, "user activation changed", "actor_id", actorID, "user_id", userID, "is_active", isActive)
	return nil
}

// ListUsers returns users whose login contains query, ignoring case, ordered
// by login. It is read-only and performs no permission check.
func (a *Admin) ListUsers(ctx context.Context, query string) ([]types.User, error) {
	var out []types.User
	err := a.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		var err error
		out, err = a.users.List(ctx, tx, query)
		return err
	})
	return out, err
}

// ListAudit returns audit events for the admin view. The actor must hold
// access_admin_view; a refusal is itself audited.
func (a *Admin) ListAudit(ctx context.Context, q types.AuditQuery, actorID int64) ([]types.AuditEntry, error) {
	var out []types.AuditEntry
	err := a.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		if _, err := a.guard.RequireAdmin(ctx, tx, actorID, types.EntityUser, types.PermAccessAdminView, types.ActionAuditList); err != nil {
			return err
		}
		var err error
		out, err = a.audit.List(ctx, tx, q)
		return err
	})
	return out, err
}
