package permission

// Permission is a single capability bit within a [Set].
//
//	Docs: docs/permission.md
type Permission uint8

const (
	// PermViewProjects is an exported constant or variable used by permission lookups.
	PermViewProjects Permission = iota
	// PermViewAllProjects is an exported constant or variable used by permission lookups.
	PermViewAllProjects
	// PermCreateProjects is an exported constant or variable used by permission lookups.
	PermCreateProjects
	// PermManageScope is an exported constant or variable used by permission lookups.
	PermManageScope
	// PermViewCosts is an exported constant or variable used by permission lookups.
	PermViewCosts
	// PermApproveBudgets is an exported constant or variable used by permission lookups.
	PermApproveBudgets
	// PermApprovePurchases is an exported constant or variable used by permission lookups.
	PermApprovePurchases
	// PermViewReports is an exported constant or variable used by permission lookups.
	PermViewReports
	// PermSubmitReports is an exported constant or variable used by permission lookups.
	PermSubmitReports
	// PermManageUsers is an exported constant or variable used by permission lookups.
	PermManageUsers
	// PermAdminPanel is an exported constant or variable used by permission lookups.
	PermAdminPanel

	permissionCount
)

// Set is a fixed-width permission bitmask.
type Set uint64

// Has describes the has operation and its observable behavior.
func (s Set) Has(p Permission) bool {
	if p >= permissionCount {
		return false
	}
	return s&(1<<p) != 0
}

func mask(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s |= 1 << p
	}
	return s
}

// matrix is the static role→permission lookup. Indexed by Role so a missing
// row is a compile error when a role is added.
var matrix = [roleCount]Set{
	RoleUnknown: 0,
	RoleAdmin: mask(
		PermViewProjects, PermViewAllProjects, PermCreateProjects,
		PermManageScope, PermViewCosts, PermApproveBudgets,
		PermApprovePurchases, PermViewReports, PermSubmitReports,
		PermManageUsers, PermAdminPanel,
	),
	RoleManagement: mask(
		PermViewProjects, PermViewAllProjects, PermCreateProjects,
		PermManageScope, PermViewCosts, PermApproveBudgets,
		PermApprovePurchases, PermViewReports, PermManageUsers,
	),
	RoleProjectManager: mask(
		PermViewProjects, PermCreateProjects, PermManageScope,
		PermViewReports, PermSubmitReports,
	),
	RoleTechnicalLead: mask(
		PermViewProjects, PermManageScope, PermViewReports,
		PermSubmitReports,
	),
	RolePurchaseManager: mask(
		PermViewProjects, PermViewCosts, PermApprovePurchases,
		PermViewReports,
	),
	RoleClient: mask(
		PermViewProjects, PermViewReports,
	),
}

// Has reports whether the role carries the permission. RoleUnknown carries
// nothing, so lookups on missing or inactive profiles simply deny.
func (r Role) Has(p Permission) bool {
	if !r.Valid() {
		return false
	}
	return matrix[r].Has(p)
}

// Permissions returns the role's full permission set.
func (r Role) Permissions() Set {
	if !r.Valid() {
		return 0
	}
	return matrix[r]
}

// IsManagementLevel reports whether the role sits at management level or
// above for reporting and approval surfaces.
func IsManagementLevel(r Role) bool {
	return r == RoleAdmin || r == RoleManagement
}

// CanViewCosts is the seniority-aware cost-visibility predicate: project
// managers see costs only at senior seniority or above; other roles follow
// the static matrix.
func CanViewCosts(r Role, s Seniority) bool {
	if r == RoleProjectManager {
		return s.AtLeast(SenioritySenior)
	}
	return r.Has(PermViewCosts)
}
