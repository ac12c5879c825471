package model

import (
	"encoding/json"
	"fmt"
)

// Role is a console account tier. Roles form a total order:
// admin < superadmin < main-superadmin.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleSuperAdmin
	RoleMainSuperAdmin
)

// Wire and storage names for each role.
const (
	RoleNameAdmin          = "admin"
	RoleNameSuperAdmin     = "superadmin"
	RoleNameMainSuperAdmin = "main-superadmin"
)

// ParseRole converts a stored or transmitted role name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case RoleNameAdmin:
		return RoleAdmin, nil
	case RoleNameSuperAdmin:
		return RoleSuperAdmin, nil
	case RoleNameMainSuperAdmin:
		return RoleMainSuperAdmin, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", s)
	}
}

// String returns the canonical role name.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return RoleNameAdmin
	case RoleSuperAdmin:
		return RoleNameSuperAdmin
	case RoleMainSuperAdmin:
		return RoleNameMainSuperAdmin
	default:
		return ""
	}
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r >= RoleAdmin && r <= RoleMainSuperAdmin
}

// AtLeast reports whether r grants every permission of min. An unknown role
// never satisfies any minimum.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && min.Valid() && r >= min
}

// MarshalJSON encodes the role by name.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a role name.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
