package models

import (
	"errors"
	"strings"
)

const (
	RoleNameOpsChina    = "OPS_CHINA"
	RoleNameOpsTanzania = "OPS_TANZANIA"
	RoleNameFinance     = "FINANCE"
	RoleNameAdmin       = "ADMIN"
	RoleNameSystem      = "SYSTEM"
)

// Role is a closed set of variants. Region scoping only exists on OpsRole, so
// "is this actor region-bound" is answered by a type switch, not a string prefix.
type Role interface {
	RoleName() string
	isRole()
}

type OpsRole struct {
	Region Region
}

type FinanceRole struct{}

type AdminRole struct{}

// SystemRole is held only by the engine when it applies auto-transitions and
// cascades. It cannot be parsed from external input.
type SystemRole struct{}

func (r OpsRole) RoleName() string {
	switch r.Region {
	case RegionChina:
		return RoleNameOpsChina
	case RegionTanzania:
		return RoleNameOpsTanzania
	}
	return "OPS_" + string(r.Region)
}

func (FinanceRole) RoleName() string { return RoleNameFinance }
func (AdminRole) RoleName() string   { return RoleNameAdmin }
func (SystemRole) RoleName() string  { return RoleNameSystem }

func (OpsRole) isRole()     {}
func (FinanceRole) isRole() {}
func (AdminRole) isRole()   {}
func (SystemRole) isRole()  {}

var ErrInvalidRole = errors.New("invalid role")

// ParseRole maps the console role names to their variants.
func ParseRole(name string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case RoleNameOpsChina:
		return OpsRole{Region: RegionChina}, nil
	case RoleNameOpsTanzania:
		return OpsRole{Region: RegionTanzania}, nil
	case RoleNameFinance:
		return FinanceRole{}, nil
	case RoleNameAdmin:
		return AdminRole{}, nil
	}
	return nil, ErrInvalidRole
}

type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"-"`
}

var SystemActor = Actor{ID: "system", Name: "Workflow Engine", Role: SystemRole{}}

func NewActor(id, name, roleName string) (Actor, error) {
	role, err := ParseRole(roleName)
	if err != nil {
		return Actor{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Actor{}, errors.New("actor id is required")
	}
	return Actor{ID: id, Name: name, Role: role}, nil
}

// Region is the Ops actor's assigned region, "" for global roles.
func (a Actor) Region() Region {
	if ops, ok := a.Role.(OpsRole); ok {
		return ops.Region
	}
	return ""
}

func (a Actor) RoleName() string {
	if a.Role == nil {
		return ""
	}
	return a.Role.RoleName()
}

func (a Actor) IsAdmin() bool {
	_, ok := a.Role.(AdminRole)
	return ok
}

func (a Actor) IsSystem() bool {
	_, ok := a.Role.(SystemRole)
	return ok
}
