package identity

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the profile's role
type UserRole = string

const (
	// RoleAdmin has access to every module
	RoleAdmin UserRole = "admin"
	// RoleManager manages one or more modules
	RoleManager UserRole = "manager"
	// RoleStaff is the default role for new profiles
	RoleStaff UserRole = "staff"
	// RoleMarketing is scoped to sales/marketing modules
	RoleMarketing UserRole = "marketing"
)

// Module is a named feature area gating route access.
type Module = string

const (
	ModuleHRD       Module = "hrd"
	ModuleSales     Module = "sales"
	ModuleFinance   Module = "finance"
	ModuleInventory Module = "inventory"
	ModuleProjects  Module = "projects"
	ModulePayroll   Module = "payroll"
)

// DefaultModules are granted to profiles created without explicit grants.
func DefaultModules() []Module {
	return []Module{ModuleHRD}
}

// Profile extends a provider Identity with role and module grants. Keyed 1:1
// by the identity id; created lazily on first resolution if absent. Role and
// module grants here are the source of route-authorization truth; identity
// metadata is a fallback copy only.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	Role          UserRole   `bun:"role,notnull" json:"role,omitempty"`
	Avatar        string     `bun:"avatar" json:"avatar,omitempty"`
	Modules       []Module   `bun:"modules,type:jsonb" json:"modules,omitempty"`
	EmployeeID    *uuid.UUID `bun:"employee_id,nullzero" json:"employee_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureDefaults backfills the role and module grants for new rows.
func (p *Profile) EnsureDefaults() {
	if p.Role == "" {
		p.Role = RoleStaff
	}
	if len(p.Modules) == 0 {
		p.Modules = DefaultModules()
	}
}

// HasModule checks exact, case-sensitive membership. No hierarchy or wildcard
// grants.
func (p *Profile) HasModule(module Module) bool {
	for _, m := range p.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// ProfileUpdate is a partial write against a profile row. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Name       *string    `json:"name,omitempty"`
	Email      *string    `json:"email,omitempty"`
	Role       *UserRole  `json:"role,omitempty"`
	Avatar     *string    `json:"avatar,omitempty"`
	Modules    []Module   `json:"modules,omitempty"`
	EmployeeID *uuid.UUID `json:"employee_id,omitempty"`
}

// IsEmpty reports whether the update carries no field changes.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil &&
		u.Email == nil &&
		u.Role == nil &&
		u.Avatar == nil &&
		u.Modules == nil &&
		u.EmployeeID == nil
}

// Validate rejects malformed updates before they reach the store.
func (u ProfileUpdate) Validate() error {
	fields := []*validation.FieldRules{}

	if u.Email != nil {
		fields = append(fields, validation.Field(&u.Email, is.Email))
	}

	if u.Role != nil {
		fields = append(fields, validation.Field(&u.Role, validation.By(func(any) error {
			if _, ok := ParseRole(*u.Role); !ok {
				return errors.New("unknown role")
			}
			return nil
		})))
	}

	if u.Modules != nil {
		fields = append(fields, validation.Field(&u.Modules, validation.By(func(any) error {
			for _, m := range u.Modules {
				if m == "" {
					return errors.New("module tag cannot be blank")
				}
			}
			return nil
		})))
	}

	return validation.ValidateStruct(&u, fields...)
}

// Apply copies the update's set fields onto the profile.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.Avatar != nil {
		p.Avatar = *u.Avatar
	}
	if u.Modules != nil {
		p.Modules = append([]Module{}, u.Modules...)
	}
	if u.EmployeeID != nil {
		p.EmployeeID = u.EmployeeID
	}
}
