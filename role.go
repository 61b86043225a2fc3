package authzero

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is a named privilege level. Roles form a lattice ordered by Level;
// STAFF, API_CLIENT, and SERVICE share the internal tier.
type Role string

const (
	RoleAnon      Role = "ANON"
	RoleUser      Role = "USER"
	RoleStaff     Role = "STAFF"
	RoleAPIClient Role = "API_CLIENT"
	RoleService   Role = "SERVICE"
	RoleSystem    Role = "SYSTEM"
	RoleAdmin     Role = "ADMIN"
)

// roleOrder fixes iteration order for numeric parsing; equal levels resolve
// to the earliest entry.
var roleOrder = []Role{RoleAnon, RoleUser, RoleStaff, RoleAPIClient, RoleService, RoleSystem, RoleAdmin}

var roleLevels = map[Role]int{
	RoleAnon:      0,
	RoleUser:      30,
	RoleStaff:     50,
	RoleAPIClient: 50,
	RoleService:   50,
	RoleSystem:    60,
	RoleAdmin:     100,
}

// Level returns the numeric privilege of the role, 0 for unknown roles.
func (r Role) Level() int { return roleLevels[r] }

func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// AtLeast reports whether r grants at least the privilege of other.
func (r Role) AtLeast(other Role) bool { return r.Level() >= other.Level() }

// ParseRole accepts a role name (case-insensitive) or a numeric privilege
// level. The empty string parses to ANON.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RoleAnon, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		for _, r := range roleOrder {
			if roleLevels[r] == n {
				return r, nil
			}
		}
		return RoleAnon, fmt.Errorf("authzero: no role with privilege level %d", n)
	}
	r := Role(strings.ToUpper(s))
	if !r.Valid() {
		return RoleAnon, fmt.Errorf("authzero: unknown role %q", s)
	}
	return r, nil
}

// MaxRole returns the most privileged of the given role names, ignoring
// anything unparseable.
func MaxRole(names []string) Role {
	max := RoleAnon
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			continue
		}
		if r.Level() > max.Level() {
			max = r
		}
	}
	return max
}
