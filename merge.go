package identity

import "github.com/google/uuid"

// ResolvedUser is the merged, in-memory view combining an Identity and its
// Profile, consumed by route guards and presence. Never persisted; discarded
// on logout or resolution failure.
type ResolvedUser struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	Name       string   `json:"name,omitempty"`
	Role       UserRole `json:"role"`
	Modules    []Module `json:"modules"`
	Avatar     string   `json:"avatar,omitempty"`
	EmployeeID string   `json:"employee_id,omitempty"`
}

// HasModuleAccess checks exact, case-sensitive membership in the module set.
func (u *ResolvedUser) HasModuleAccess(module Module) bool {
	if u == nil {
		return false
	}
	for _, m := range u.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// MergeUser combines an Identity with its Profile into a ResolvedUser. Pure
// function: Profile fields take precedence, Identity metadata fills gaps, and
// the staff/hrd defaults apply when neither source has an answer. A nil
// profile produces the metadata-only fallback used during backend outages.
func MergeUser(id Identity, profile *Profile) *ResolvedUser {
	user := &ResolvedUser{
		ID:    id.ID,
		Email: id.Email,
	}

	user.Name = metadataString(id.Metadata, "name")
	user.Avatar = metadataString(id.Metadata, "avatar")
	user.EmployeeID = metadataString(id.Metadata, "employee_id")

	if role, ok := ParseRole(metadataString(id.Metadata, "role")); ok {
		user.Role = role
	}
	user.Modules = metadataModules(id.Metadata)

	if profile != nil {
		if profile.Email != "" {
			user.Email = profile.Email
		}
		if profile.Name != "" {
			user.Name = profile.Name
		}
		if profile.Role != "" {
			user.Role = profile.Role
		}
		if len(profile.Modules) > 0 {
			user.Modules = append([]Module{}, profile.Modules...)
		}
		if profile.Avatar != "" {
			user.Avatar = profile.Avatar
		}
		if profile.EmployeeID != nil && *profile.EmployeeID != uuid.Nil {
			user.EmployeeID = profile.EmployeeID.String()
		}
	}

	if user.Role == "" {
		user.Role = RoleStaff
	}
	if len(user.Modules) == 0 {
		user.Modules = DefaultModules()
	}

	return user
}

// ProfileDefaultsFromIdentity builds the row created lazily the first time an
// identity resolves without a profile.
func ProfileDefaultsFromIdentity(id Identity) (*Profile, error) {
	uid, err := uuid.Parse(id.ID)
	if err != nil {
		return nil, err
	}

	profile := &Profile{
		ID:     uid,
		Email:  id.Email,
		Name:   metadataString(id.Metadata, "name"),
		Avatar: metadataString(id.Metadata, "avatar"),
	}

	if role, ok := ParseRole(metadataString(id.Metadata, "role")); ok {
		profile.Role = role
	}
	profile.Modules = metadataModules(id.Metadata)
	profile.EnsureDefaults()

	return profile, nil
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if raw, ok := metadata[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

func metadataModules(metadata map[string]any) []Module {
	if metadata == nil {
		return nil
	}

	raw, ok := metadata["modules"]
	if !ok {
		return nil
	}

	switch values := raw.(type) {
	case []Module:
		return append([]Module{}, values...)
	case []any:
		modules := make([]Module, 0, len(values))
		for _, v := range values {
			if m, ok := v.(string); ok && m != "" {
				modules = append(modules, m)
			}
		}
		return modules
	}

	return nil
}
