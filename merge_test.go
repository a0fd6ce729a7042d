package identity_test

import (
	"testing"

	"github.com/google/uuid"
	identity "github.com/kantorhub/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeUserProfileWins(t *testing.T) {
	id := identity.Identity{
		ID:    testUserID,
		Email: "old@example.com",
		Metadata: map[string]any{
			"name": "Meta Name",
			"role": "staff",
		},
	}

	employeeID := uuid.New()
	profile := &identity.Profile{
		ID:         uuid.MustParse(testUserID),
		Email:      "pepe.rone@example.com",
		Name:       "Pepe Rone",
		Role:       identity.RoleManager,
		Modules:    []identity.Module{identity.ModuleSales},
		Avatar:     "https://example.com/a.png",
		EmployeeID: &employeeID,
	}

	user := identity.MergeUser(id, profile)

	assert.Equal(t, testUserID, user.ID)
	assert.Equal(t, "pepe.rone@example.com", user.Email)
	assert.Equal(t, "Pepe Rone", user.Name)
	assert.Equal(t, identity.RoleManager, user.Role)
	assert.Equal(t, []identity.Module{identity.ModuleSales}, user.Modules)
	assert.Equal(t, employeeID.String(), user.EmployeeID)
}

func TestMergeUserMetadataFillsGaps(t *testing.T) {
	id := identity.Identity{
		ID:    testUserID,
		Email: "pepe.rone@example.com",
		Metadata: map[string]any{
			"name":        "Meta Name",
			"avatar":      "https://example.com/m.png",
			"employee_id": "emp-7",
			"role":        "marketing",
			"modules":     []any{"sales", "hrd"},
		},
	}

	user := identity.MergeUser(id, nil)

	assert.Equal(t, "Meta Name", user.Name)
	assert.Equal(t, "https://example.com/m.png", user.Avatar)
	assert.Equal(t, "emp-7", user.EmployeeID)
	assert.Equal(t, identity.RoleMarketing, user.Role)
	assert.Equal(t, []identity.Module{identity.ModuleSales, identity.ModuleHRD}, user.Modules)
}

func TestMergeUserDefaults(t *testing.T) {
	user := identity.MergeUser(identity.Identity{ID: testUserID, Email: "x@example.com"}, nil)

	assert.Equal(t, identity.RoleStaff, user.Role)
	assert.Equal(t, identity.DefaultModules(), user.Modules)
}

func TestMergeUserIgnoresUnknownMetadataRole(t *testing.T) {
	id := identity.Identity{
		ID:       testUserID,
		Metadata: map[string]any{"role": "superuser"},
	}

	user := identity.MergeUser(id, nil)
	assert.Equal(t, identity.RoleStaff, user.Role)
}

func TestMergeUserPartialProfile(t *testing.T) {
	id := identity.Identity{
		ID:    testUserID,
		Email: "pepe.rone@example.com",
		Metadata: map[string]any{
			"avatar": "https://example.com/m.png",
		},
	}

	// a profile without an avatar keeps the metadata one
	profile := &identity.Profile{
		ID:   uuid.MustParse(testUserID),
		Name: "Pepe Rone",
		Role: identity.RoleAdmin,
	}

	user := identity.MergeUser(id, profile)
	assert.Equal(t, "Pepe Rone", user.Name)
	assert.Equal(t, identity.RoleAdmin, user.Role)
	assert.Equal(t, "https://example.com/m.png", user.Avatar)
	assert.Equal(t, "pepe.rone@example.com", user.Email)
}

func TestHasModuleAccess(t *testing.T) {
	user := &identity.ResolvedUser{Modules: []identity.Module{identity.ModuleHRD}}

	assert.True(t, user.HasModuleAccess(identity.ModuleHRD))
	assert.False(t, user.HasModuleAccess(identity.ModuleSales))
	assert.False(t, user.HasModuleAccess("HRD"))

	var nilUser *identity.ResolvedUser
	assert.False(t, nilUser.HasModuleAccess(identity.ModuleHRD))
}

func TestProfileDefaultsFromIdentity(t *testing.T) {
	id := identity.Identity{
		ID:    testUserID,
		Email: "pepe.rone@example.com",
		Metadata: map[string]any{
			"name": "Pepe Rone",
		},
	}

	profile, err := identity.ProfileDefaultsFromIdentity(id)
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse(testUserID), profile.ID)
	assert.Equal(t, "pepe.rone@example.com", profile.Email)
	assert.Equal(t, "Pepe Rone", profile.Name)
	assert.Equal(t, identity.RoleStaff, profile.Role)
	assert.Equal(t, identity.DefaultModules(), profile.Modules)
}

func TestProfileDefaultsRejectsNonUUID(t *testing.T) {
	_, err := identity.ProfileDefaultsFromIdentity(identity.Identity{ID: "not-a-uuid"})
	assert.Error(t, err)
}
