package permission

import "errors"

// ErrUnknownRole is returned by [ParseRole] for an unrecognized role string.
var ErrUnknownRole = errors.New("unknown role")

// ErrUnknownSeniority is returned by [ParseSeniority] for an unrecognized
// seniority string.
var ErrUnknownSeniority = errors.New("unknown seniority")

// Role is the typed role enumeration. The zero value is RoleUnknown and
// carries no permissions.
//
//	Docs: docs/permission.md
type Role uint8

const (
	// RoleUnknown is an exported constant or variable used by permission lookups.
	RoleUnknown Role = iota
	// RoleAdmin is an exported constant or variable used by permission lookups.
	RoleAdmin
	// RoleManagement is an exported constant or variable used by permission lookups.
	RoleManagement
	// RoleProjectManager is an exported constant or variable used by permission lookups.
	RoleProjectManager
	// RoleTechnicalLead is an exported constant or variable used by permission lookups.
	RoleTechnicalLead
	// RolePurchaseManager is an exported constant or variable used by permission lookups.
	RolePurchaseManager
	// RoleClient is an exported constant or variable used by permission lookups.
	RoleClient

	roleCount
)

// Seniority is the ordered classification applied to a subset of roles:
// regular < senior < executive.
type Seniority uint8

const (
	// SeniorityNone is an exported constant or variable used by permission lookups.
	SeniorityNone Seniority = iota
	// SeniorityRegular is an exported constant or variable used by permission lookups.
	SeniorityRegular
	// SenioritySenior is an exported constant or variable used by permission lookups.
	SenioritySenior
	// SeniorityExecutive is an exported constant or variable used by permission lookups.
	SeniorityExecutive
)

// String describes the string operation and its observable behavior.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleManagement:
		return "management"
	case RoleProjectManager:
		return "project_manager"
	case RoleTechnicalLead:
		return "technical_lead"
	case RolePurchaseManager:
		return "purchase_manager"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// String describes the string operation and its observable behavior.
func (s Seniority) String() string {
	switch s {
	case SeniorityRegular:
		return "regular"
	case SenioritySenior:
		return "senior"
	case SeniorityExecutive:
		return "executive"
	default:
		return "none"
	}
}

// ParseRole maps a stored role string to its typed value.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin":
		return RoleAdmin, nil
	case "management":
		return RoleManagement, nil
	case "project_manager":
		return RoleProjectManager, nil
	case "technical_lead":
		return RoleTechnicalLead, nil
	case "purchase_manager":
		return RolePurchaseManager, nil
	case "client":
		return RoleClient, nil
	default:
		return RoleUnknown, ErrUnknownRole
	}
}

// ParseSeniority maps a stored seniority string to its typed value. An empty
// string is SeniorityNone, not an error: most roles carry no seniority.
func ParseSeniority(s string) (Seniority, error) {
	switch s {
	case "":
		return SeniorityNone, nil
	case "regular":
		return SeniorityRegular, nil
	case "senior":
		return SenioritySenior, nil
	case "executive":
		return SeniorityExecutive, nil
	default:
		return SeniorityNone, ErrUnknownSeniority
	}
}

// Valid describes the valid operation and its observable behavior.
func (r Role) Valid() bool {
	return r > RoleUnknown && r < roleCount
}

// AtLeast reports whether s ranks at or above other in the regular < senior
// < executive ordering. SeniorityNone ranks below everything.
func (s Seniority) AtLeast(other Seniority) bool {
	return s >= other
}

// SeniorityApplies reports whether the seniority classification is defined
// for the role. Seniority on any other role is stored but ignored.
func SeniorityApplies(r Role) bool {
	return r == RoleProjectManager
}
