package domain

// ──────────────────────────────────────────────────────────────────────────────
// UserRole
// ──────────────────────────────────────────────────────────────────────────────

// UserRole is the role claim carried in access tokens.
type UserRole string

const (
	RoleUser     UserRole = "user"     // account holder
	RoleAdmin    UserRole = "admin"    // full back-office access
	RoleOps      UserRole = "ops"      // opens and closes positions
	RoleReadOnly UserRole = "readonly" // read-only back-office access
)

// CanAccessBackoffice reports whether r may use the admin API at all.
func (r UserRole) CanAccessBackoffice() bool {
	return r == RoleAdmin || r == RoleOps || r == RoleReadOnly
}

// CanOperate reports whether r may open or close positions.
func (r UserRole) CanOperate() bool {
	return r == RoleAdmin || r == RoleOps
}

// IsAdmin returns true only for the full admin role.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin
}
