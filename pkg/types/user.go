package types

import "time"

// Role is the coarse authorization class of a user.
type Role string

// Legal roles. Any other value is treated as having no permissions.
const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Valid reports whether r is one of the legal roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator
}

// ParseRole converts s into a Role. Returns ErrInvalidInput for unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidInput
	}
	return r, nil
}

// User is an identity record. Users are never physically deleted;
// deactivation is the deletion substitute.
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user currently holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
