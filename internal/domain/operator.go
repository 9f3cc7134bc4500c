package domain

// ──────────────────────────────────────────────────────────────────────────────
// OperatorRole
// ──────────────────────────────────────────────────────────────────────────────

// OperatorRole controls access levels on the ops feed and the back-office.
type OperatorRole string

const (
	RoleAdmin    OperatorRole = "admin"    // full back-office access
	RoleOps      OperatorRole = "ops"      // resume periods, retry tasks
	RoleReadOnly OperatorRole = "readonly" // ops feed, period and ledger views
)

// IsValid returns true for the known roles.
func (r OperatorRole) IsValid() bool {
	return r == RoleAdmin || r == RoleOps || r == RoleReadOnly
}

// CanOperate returns true for roles allowed to trigger settlement work.
func (r OperatorRole) CanOperate() bool {
	return r == RoleAdmin || r == RoleOps
}

// IsAdmin returns true only for the full admin role.
func (r OperatorRole) IsAdmin() bool {
	return r == RoleAdmin
}
