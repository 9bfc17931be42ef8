package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a closed set of platform roles.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleQA                Role = "qa"
	RoleManager           Role = "manager"
	RoleResponsiblePerson Role = "responsible_person"
	RoleVerifier          Role = "verifier"
	RoleViewer            Role = "viewer"
)

// Roles lists every role.
var Roles = []Role{RoleAdmin, RoleQA, RoleManager, RoleResponsiblePerson, RoleVerifier, RoleViewer}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole parses a role name. "worker" is accepted as an alias of viewer.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "worker" {
		return RoleViewer, nil
	}
	r := Role(name)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// ParseRoles parses a comma-separated role list, dropping duplicates.
func ParseRoles(s string) ([]Role, error) {
	var roles []Role
	seen := make(map[Role]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := ParseRole(part)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// Actor is a user as resolved by the actor directory.
type Actor struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Roles        []Role `json:"roles"`
	DepartmentID string `json:"department_id,omitempty"`
}

// HasRole reports whether the actor holds r.
func (a Actor) HasRole(r Role) bool {
	for _, held := range a.Roles {
		if held == r {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// Relationship captures how an actor relates to one record.
// It is computed on demand, never stored.
type Relationship struct {
	IsReporter          bool `json:"is_reporter"`
	IsResponsiblePerson bool `json:"is_responsible_person"`
	IsDepartmentManager bool `json:"is_department_manager"`
}

// RelationshipOf computes the actor's relationship to rec.
func RelationshipOf(a Actor, rec *Record) Relationship {
	if rec == nil || a.ID == "" {
		return Relationship{}
	}
	return Relationship{
		IsReporter:          rec.ReporterID == a.ID,
		IsResponsiblePerson: rec.ResponsibleID != "" && rec.ResponsibleID == a.ID,
		IsDepartmentManager: a.HasRole(RoleManager) && a.DepartmentID != "" && a.DepartmentID == rec.DepartmentID,
	}
}
