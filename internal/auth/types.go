package auth

import "errors"

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleOperator can read device state and history and send routine
	// commands (settings, display, payments).
	RoleOperator Role = "operator"

	// RoleAdmin has full control: device configuration, reboots,
	// provider keys, ack resends.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleOperator, RoleAdmin}

// IsValidRole returns true if the role is one the API accepts.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)
