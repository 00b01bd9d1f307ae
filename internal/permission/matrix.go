// Package permission maps roles to the privileged capabilities they hold.
// The table is static and lookups never fail: an unrecognized role simply
// holds nothing.
package permission

import "github.com/mesh-intelligence/epirec/pkg/types"

var matrix = map[types.Role]map[types.Permission]bool{
	types.RoleAdmin: {
		types.PermManageUsers:      true,
		types.PermManageReferences: true,
		types.PermManageBackups:    true,
		types.PermAccessAdminView:  true,
	},
	types.RoleOperator: {},
}

// HasPermission reports whether role grants perm.
func HasPermission(role types.Role, perm types.Permission) bool {
	return matrix[role][perm]
}

// Permissions returns the permissions granted to role, in declaration order.
func Permissions(role types.Role) []types.Permission {
	var out []types.Permission
	for _, p := range types.AllPermissions {
		if HasPermission(role, p) {
			out = append(out, p)
		}
	}
	return out
}

// CanManageUsers reports whether role may create and administer accounts.
func CanManageUsers(role types.Role) bool { return HasPermission(role, types.PermManageUsers) }

// CanManageReferences reports whether role may edit reference data.
func CanManageReferences(role types.Role) bool {
	return HasPermission(role, types.PermManageReferences)
}

// CanManageBackups reports whether role may create and restore backups.
func CanManageBackups(role types.Role) bool { return HasPermission(role, types.PermManageBackups) }

// CanAccessAdminView reports whether role may open the administration view.
func CanAccessAdminView(role types.Role) bool {
	return HasPermission(role, types.PermAccessAdminView)
}
