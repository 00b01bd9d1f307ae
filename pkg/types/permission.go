package types

// Permission names a privileged capability.
type Permission string

// Defined permissions.
const (
	PermManageUsers      Permission = "manage_users"
	PermManageReferences Permission = "manage_references"
	PermManageBackups    Permission = "manage_backups"
	PermAccessAdminView  Permission = "access_admin_view"
)

// AllPermissions lists every defined permission for enumeration.
var AllPermissions = []Permission{
	PermManageUsers,
	PermManageReferences,
	PermManageBackups,
	PermAccessAdminView,
}
