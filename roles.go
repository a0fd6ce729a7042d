package identity

// IsValidRole checks if the role is one of the predefined valid roles
func IsValidRole(r UserRole) bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff, RoleMarketing:
		return true
	default:
		return false
	}
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleAdmin,
		RoleManager,
		RoleStaff,
		RoleMarketing,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, IsValidRole(role)
}

// KnownModules returns the module tags the application ships with. Module
// membership checks never consult this list; unknown tags simply never match
// a route requirement.
func KnownModules() []Module {
	return []Module{
		ModuleHRD,
		ModuleSales,
		ModuleFinance,
		ModuleInventory,
		ModuleProjects,
		ModulePayroll,
	}
}
