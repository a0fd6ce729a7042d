package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	identity "github.com/kantorhub/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testUserID  = "11111111-1111-1111-1111-111111111111"
	otherUserID = "22222222-2222-2222-2222-222222222222"
)

func testProfile(id string) *identity.Profile {
	uid := uuid.MustParse(id)
	return &identity.Profile{
		ID:      uid,
		Email:   "pepe.rone@example.com",
		Name:    "Pepe Rone",
		Role:    identity.RoleManager,
		Modules: []identity.Module{identity.ModuleHRD, identity.ModuleSales},
	}
}

func TestInitializeWithoutSession(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &MockProfiles{}

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()

	assert.True(t, resolver.State().IsLoading)

	require.NoError(t, resolver.Initialize(context.Background()))

	state := resolver.State()
	assert.False(t, state.IsLoading)
	assert.False(t, state.IsAuthenticated)
	assert.Nil(t, state.User)
	profiles.AssertExpectations(t)
}

func TestInitializeResolvesExistingProfile(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uuid.MustParse(testUserID)).
		Return(testProfile(testUserID), nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()

	require.NoError(t, resolver.Initialize(context.Background()))

	state := resolver.State()
	assert.False(t, state.IsLoading)
	assert.True(t, state.IsAuthenticated)
	require.NotNil(t, state.User)
	assert.Equal(t, testUserID, state.User.ID)
	assert.Equal(t, identity.RoleManager, state.User.Role)
	assert.True(t, resolver.HasModuleAccess(identity.ModuleSales))
	assert.False(t, resolver.HasModuleAccess(identity.ModuleFinance))
	profiles.AssertExpectations(t)
}

func TestInitializeCreatesMissingProfile(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	uid := uuid.MustParse(testUserID)
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uid).
		Return(nil, identity.ErrProfileNotFound).Once()
	created := &identity.Profile{
		ID:      uid,
		Email:   "pepe.rone@example.com",
		Role:    identity.RoleStaff,
		Modules: []identity.Module{identity.ModuleHRD},
	}
	profiles.On("Create", mock.Anything, mock.MatchedBy(func(p *identity.Profile) bool {
		return p.ID == uid && p.Role == identity.RoleStaff && p.HasModule(identity.ModuleHRD)
	})).Return(created, nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()

	require.NoError(t, resolver.Initialize(context.Background()))

	state := resolver.State()
	require.True(t, state.IsAuthenticated)
	assert.Equal(t, identity.RoleStaff, state.User.Role)
	assert.Equal(t, []identity.Module{identity.ModuleHRD}, state.User.Modules)
	profiles.AssertExpectations(t)
}

func TestInitializeCreateConflictReadsBack(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	uid := uuid.MustParse(testUserID)
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uid).
		Return(nil, identity.ErrProfileNotFound).Once()
	profiles.On("Create", mock.Anything, mock.Anything).
		Return(nil, identity.ErrProfileConflict).Once()
	profiles.On("Update", mock.Anything, uid, identity.ProfileUpdate{}).
		Return(testProfile(testUserID), nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()

	require.NoError(t, resolver.Initialize(context.Background()))

	state := resolver.State()
	require.True(t, state.IsAuthenticated)
	assert.Equal(t, identity.RoleManager, state.User.Role)
	profiles.AssertExpectations(t)
}

func TestInitializeTransientFailureFallsBackToMetadata(t *testing.T) {
	session := testSession(testUserID, "pepe.rone@example.com")
	session.User.Metadata = map[string]any{
		"name": "Pepe Rone",
		"role": "admin",
	}

	provider := &fakeProvider{}
	provider.setSession(session)

	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uuid.MustParse(testUserID)).
		Return(nil, errors.New("backend down", errors.CategoryInternal)).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()

	require.NoError(t, resolver.Initialize(context.Background()))

	// still signed in, resolved from identity metadata alone
	state := resolver.State()
	require.True(t, state.IsAuthenticated)
	assert.Equal(t, "Pepe Rone", state.User.Name)
	assert.Equal(t, identity.RoleAdmin, state.User.Role)
	assert.Equal(t, identity.DefaultModules(), state.User.Modules)
	profiles.AssertExpectations(t)
}

func TestSignedOutEventClearsState(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uuid.MustParse(testUserID)).
		Return(testProfile(testUserID), nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))
	require.True(t, resolver.State().IsAuthenticated)

	states := []identity.ResolverState{}
	resolver.Subscribe(func(state identity.ResolverState) {
		states = append(states, state)
	})

	provider.emit(identity.AuthEventSignedOut, nil)

	state := resolver.State()
	assert.False(t, state.IsAuthenticated)
	assert.Nil(t, state.User)
	require.Len(t, states, 1)
	assert.False(t, states[0].IsAuthenticated)
}

func TestStaleResolutionNeverOverwritesNewerEvent(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	release := make(chan struct{})
	entered := make(chan struct{})
	uid := uuid.MustParse(testUserID)

	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uid).
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(testProfile(testUserID), nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = resolver.Initialize(context.Background())
	}()

	// wait for the resolution to be in flight, then sign out underneath it
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("resolution never started")
	}

	provider.emit(identity.AuthEventSignedOut, nil)
	close(release)
	<-done

	state := resolver.State()
	assert.False(t, state.IsAuthenticated, "stale resolution must not win over the sign-out")
	assert.Nil(t, state.User)
}

func TestCloseDiscardsPendingResolution(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	release := make(chan struct{})
	entered := make(chan struct{})
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uuid.MustParse(testUserID)).
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(testProfile(testUserID), nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)

	fired := 0
	resolver.Subscribe(func(identity.ResolverState) { fired++ })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = resolver.Initialize(context.Background())
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("resolution never started")
	}

	resolver.Close()
	close(release)
	<-done

	assert.Zero(t, fired, "no listener fires after Close")
	assert.Zero(t, provider.listenerCount(), "provider listener detached on Close")
}

func TestLoginDelegatesToProvider(t *testing.T) {
	provider := &fakeProvider{}
	provider.signInErr = identity.ErrInvalidCredentials

	resolver := identity.NewSessionResolver(provider, &MockProfiles{})
	defer resolver.Close()

	err := resolver.Login(context.Background(), "pepe.rone@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestLogoutIsIdempotent(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uuid.MustParse(testUserID)).
		Return(testProfile(testUserID), nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))

	resolver.Logout(context.Background())
	assert.False(t, resolver.State().IsAuthenticated)

	resolver.Logout(context.Background())
	assert.False(t, resolver.State().IsAuthenticated)
	assert.Equal(t, 2, provider.signOutCalls())
}

func TestUpdateProfileRequiresAuthentication(t *testing.T) {
	provider := &fakeProvider{}
	resolver := identity.NewSessionResolver(provider, &MockProfiles{})
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))

	name := "New Name"
	_, err := resolver.UpdateProfile(context.Background(), identity.ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
}

func TestUpdateProfileRequiresUUIDSubject(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession("legacy|1234", "pepe.rone@example.com"))

	profiles := &MockProfiles{}
	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))

	// legacy subject resolves metadata-only and owns no profile row
	require.True(t, resolver.State().IsAuthenticated)

	name := "New Name"
	_, err := resolver.UpdateProfile(context.Background(), identity.ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
	profiles.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateProfilePushesMetadataOnce(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	uid := uuid.MustParse(testUserID)
	updated := testProfile(testUserID)
	updated.Name = "New Name"

	name := "New Name"
	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uid).
		Return(testProfile(testUserID), nil).Once()
	profiles.On("Update", mock.Anything, uid, identity.ProfileUpdate{Name: &name}).
		Return(updated, nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))

	merged, err := resolver.UpdateProfile(context.Background(), identity.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", merged.Name)
	assert.Equal(t, "New Name", resolver.State().User.Name)

	pushes := provider.metadataPushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, "New Name", pushes[0]["name"])
	profiles.AssertExpectations(t)
}

func TestUpdateProfileRecreatesVanishedRow(t *testing.T) {
	provider := &fakeProvider{}
	provider.setSession(testSession(testUserID, "pepe.rone@example.com"))

	uid := uuid.MustParse(testUserID)
	name := "New Name"

	profiles := &MockProfiles{}
	profiles.On("Get", mock.Anything, uid).
		Return(testProfile(testUserID), nil).Once()
	profiles.On("Update", mock.Anything, uid, identity.ProfileUpdate{Name: &name}).
		Return(nil, identity.ErrProfileNotFound).Once()
	recreated := testProfile(testUserID)
	recreated.Name = "New Name"
	profiles.On("Create", mock.Anything, mock.MatchedBy(func(p *identity.Profile) bool {
		return p.ID == uid && p.Name == "New Name"
	})).Return(recreated, nil).Once()

	resolver := identity.NewSessionResolver(provider, profiles)
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))

	merged, err := resolver.UpdateProfile(context.Background(), identity.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", merged.Name)
	profiles.AssertExpectations(t)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	provider := &fakeProvider{}
	resolver := identity.NewSessionResolver(provider, &MockProfiles{})
	defer resolver.Close()
	require.NoError(t, resolver.Initialize(context.Background()))

	calls := 0
	unsubscribe := resolver.Subscribe(func(identity.ResolverState) { calls++ })
	unsubscribe()
	unsubscribe()

	provider.emit(identity.AuthEventSignedOut, nil)
	assert.Zero(t, calls)
}
