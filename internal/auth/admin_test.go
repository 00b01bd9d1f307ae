package auth

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)

	id, err := f.admin.CreateUser(ctx, "bob", "bob-secret", types.RoleOperator, f.adminID)
	require.NoError(t, err)

	u := f.user(t, id)
	assert.Equal(t, "bob", u.Login)
	assert.Equal(t, types.RoleOperator, u.Role)
	assert.True(t, u.IsActive)
	assert.Contains(t, u.PasswordHash, "$argon2id$")

	created := f.events(t, types.ActionCreateUser)
	require.Len(t, created, 1)
	assert.Equal(t, f.adminID, *created[0].UserID)
	assert.Equal(t, strconv.FormatInt(id, 10), created[0].EntityID)
	assert.JSONEq(t, `{"login":"bob","role":"operator"}`, string(created[0].Payload))
}

func TestCreateUser_ConflictWritesNoAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	f.createOperator(t, "bob")
	before := len(f.events(t, ""))

	_, err := f.admin.CreateUser(ctx, "bob", "another", types.RoleAdmin, f.adminID)
	require.ErrorIs(t, err, types.ErrConflict)
	assert.Len(t, f.events(t, ""), before)
}

func TestCreateUser_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)

	tests := []struct {
		name     string
		login    string
		password string
		role     types.Role
	}{
		{"empty login", "", "pw", types.RoleOperator},
		{"empty password", "eve", "", types.RoleOperator},
		{"unknown role", "eve", "pw", "superuser"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admin.CreateUser(ctx, tt.login, tt.password, tt.role, f.adminID)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
	assert.Empty(t, f.events(t, types.ActionCreateUser))
}

func TestAdminOps_DeniedForNonAdmins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	opID := f.createOperator(t, "operator")
	demotedID, err := f.admin.CreateUser(ctx, "former-admin", "pw", types.RoleAdmin, f.adminID)
	require.NoError(t, err)
	require.NoError(t, f.admin.SetActive(ctx, demotedID, false, f.adminID))

	actors := map[string]int64{
		"operator":          opID,
		"deactivated admin": demotedID,
		"unknown actor":     9999,
	}
	ops := map[string]struct {
		action string
		call   func(actor int64) error
	}{
		"create": {types.ActionCreateUser, func(actor int64) error {
			_, err := f.admin.CreateUser(ctx, "mallory", "pw", types.RoleAdmin, actor)
			return err
		}},
		"reset": {types.ActionResetPassword, func(actor int64) error {
			return f.admin.ResetPassword(ctx, f.adminID, "hijacked", false, actor)
		}},
		"set active": {types.ActionSetActive, func(actor int64) error {
			return f.admin.SetActive(ctx, f.adminID, false, actor)
		}},
		"audit list": {types.ActionAuditList, func(actor int64) error {
			_, err := f.admin.ListAudit(ctx, types.AuditQuery{}, actor)
			return err
		}},
	}

	for actorName, actor := range actors {
		for opName, op := range ops {
			t.Run(actorName+"/"+opName, func(t *testing.T) {
				before := len(f.events(t, types.ActionAccessDenied))

				err := op.call(actor)
				require.ErrorIs(t, err, types.ErrPermissionDenied)

				denied := f.events(t, types.ActionAccessDenied)
				require.Len(t, denied, before+1, "exactly one access_denied row")
				ev := denied[0]
				require.NotNil(t, ev.UserID)
				assert.Equal(t, actor, *ev.UserID)
				assert.Equal(t, types.EntityUser, ev.EntityType)
				assert.JSONEq(t,
					`{"reason":"admin_required","permission":"`+permFor(op.action)+`","action":"`+op.action+`"}`,
					string(ev.Payload))
			})
		}
	}

	admin := f.user(t, f.adminID)
	assert.True(t, admin.IsActive, "denied calls must not mutate")
	_, err = f.svc.Login(ctx, "admin", "admin1234")
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "mallory", "pw")
	assert.ErrorIs(t, err, types.ErrAuthenticationFailed)
}

func permFor(action string) string {
	if action == types.ActionAuditList {
		return string(types.PermAccessAdminView)
	}
	return string(types.PermManageUsers)
}

func TestAdminOps_RoleIsReResolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	secondID, err := f.admin.CreateUser(ctx, "second", "pw", types.RoleAdmin, f.adminID)
	require.NoError(t, err)

	sess, err := f.svc.Login(ctx, "second", "pw")
	require.NoError(t, err)
	require.Equal(t, types.RoleAdmin, sess.Role)

	require.NoError(t, f.admin.SetActive(ctx, secondID, false, f.adminID))

	_, err = f.admin.CreateUser(ctx, "late", "pw", types.RoleOperator, sess.UserID)
	assert.ErrorIs(t, err, types.ErrPermissionDenied, "session role is not trusted")
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	opID := f.createOperator(t, "carol")

	require.NoError(t, f.admin.ResetPassword(ctx, opID, "fresh-pass", false, f.adminID))
	_, err := f.svc.Login(ctx, "carol", "fresh-pass")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "carol", "operator-pass")
	require.ErrorIs(t, err, types.ErrAuthenticationFailed)

	require.NoError(t, f.admin.ResetPassword(ctx, opID, "locked-pass", true, f.adminID))
	assert.False(t, f.user(t, opID).IsActive)
	_, err = f.svc.Login(ctx, "carol", "locked-pass")
	require.ErrorIs(t, err, types.ErrAuthenticationFailed)

	resets := f.events(t, types.ActionResetPassword)
	require.Len(t, resets, 2)
	assert.JSONEq(t, `{"deactivate":true}`, string(resets[0].Payload))
	assert.JSONEq(t, `{"deactivate":false}`, string(resets[1].Payload))

	err = f.admin.ResetPassword(ctx, 9999, "pw", false, f.adminID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Len(t, f.events(t, types.ActionResetPassword), 2)
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	opID := f.createOperator(t, "dan")

	require.NoError(t, f.admin.SetActive(ctx, opID, false, f.adminID))
	assert.False(t, f.user(t, opID).IsActive)
	require.NoError(t, f.admin.SetActive(ctx, opID, true, f.adminID))
	assert.True(t, f.user(t, opID).IsActive)

	events := f.events(t, types.ActionSetActive)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"is_active":true}`, string(events[0].Payload))
	assert.JSONEq(t, `{"is_active":false}`, string(events[1].Payload))

	assert.ErrorIs(t, f.admin.SetActive(ctx, 9999, true, f.adminID), types.ErrNotFound)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	f.createOperator(t, "Beta")
	f.createOperator(t, "alpha")

	all, err := f.admin.ListUsers(ctx, "")
	require.NoError(t, err)
	var logins []string
	for _, u := range all {
		logins = append(logins, u.Login)
	}
	assert.Equal(t, []string{"Beta", "admin", "alpha"}, logins)

	filtered, err := f.admin.ListUsers(ctx, "AL")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "alpha", filtered[0].Login)
}

func TestListAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, hardened)
	f.createOperator(t, "erin")

	entries, err := f.admin.ListAudit(ctx, types.AuditQuery{Limit: 10}, f.adminID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.ActionCreateUser, entries[0].Action)
	assert.Equal(t, "admin", entries[0].ActorLogin)
	assert.Equal(t, types.ActionBootstrapAdmin, entries[1].Action)
	assert.Empty(t, entries[1].ActorLogin)
}
