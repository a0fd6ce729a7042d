package identity_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	identity "github.com/kantorhub/go-identity"
	"github.com/stretchr/testify/mock"
)

// MockProfiles implements identity.Profiles
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) Get(ctx context.Context, id uuid.UUID) (*identity.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*identity.Profile)
	return profile, args.Error(1)
}

func (m *MockProfiles) Create(ctx context.Context, profile *identity.Profile) (*identity.Profile, error) {
	args := m.Called(ctx, profile)
	created, _ := args.Get(0).(*identity.Profile)
	return created, args.Error(1)
}

func (m *MockProfiles) Update(ctx context.Context, id uuid.UUID, update identity.ProfileUpdate) (*identity.Profile, error) {
	args := m.Called(ctx, id, update)
	updated, _ := args.Get(0).(*identity.Profile)
	return updated, args.Error(1)
}

func (m *MockProfiles) GetOrCreate(ctx context.Context, profile *identity.Profile) (*identity.Profile, error) {
	args := m.Called(ctx, profile)
	found, _ := args.Get(0).(*identity.Profile)
	return found, args.Error(1)
}

// MockMetadataWriter implements identity.MetadataWriter
type MockMetadataWriter struct {
	mock.Mock
}

func (m *MockMetadataWriter) UpdateUserMetadata(ctx context.Context, data map[string]any) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// MockResetSender implements identity.PasswordResetSender
type MockResetSender struct {
	mock.Mock
}

func (m *MockResetSender) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	args := m.Called(ctx, email, redirectTo)
	return args.Error(0)
}

// MockTransport implements identity.Transport
type MockTransport struct {
	mock.Mock

	mu        sync.Mutex
	callbacks identity.TransportCallbacks
}

func (m *MockTransport) Join(ctx context.Context, callbacks identity.TransportCallbacks) error {
	m.mu.Lock()
	m.callbacks = callbacks
	m.mu.Unlock()
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTransport) Track(entry identity.PresenceEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func (m *MockTransport) Leave() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) EmitStatus(status identity.ChannelStatus) {
	m.mu.Lock()
	cb := m.callbacks.OnStatus
	m.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

func (m *MockTransport) EmitState(entries []identity.PresenceEntry) {
	m.mu.Lock()
	cb := m.callbacks.OnState
	m.mu.Unlock()
	if cb != nil {
		cb(entries)
	}
}

func (m *MockTransport) EmitDiff(joins []identity.PresenceEntry, leaves []string) {
	m.mu.Lock()
	cb := m.callbacks.OnDiff
	m.mu.Unlock()
	if cb != nil {
		cb(joins, leaves)
	}
}

// fakeProvider is a stateful identity.Provider for resolver tests. It keeps a
// settable session and lets tests fire auth events by hand.
type fakeProvider struct {
	mu        sync.Mutex
	session   identity.Session
	signInErr error
	getErr    error
	signOut   int
	metadata  []map[string]any
	listeners []identity.AuthStateListener
}

func (f *fakeProvider) GetSession(ctx context.Context) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session, nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOut++
	f.session = nil
	return nil
}

func (f *fakeProvider) UpdateUserMetadata(ctx context.Context, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, data)
	return nil
}

func (f *fakeProvider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return nil
}

func (f *fakeProvider) OnAuthStateChange(listener identity.AuthStateListener) identity.Unsubscribe {
	f.mu.Lock()
	f.listeners = append(f.listeners, listener)
	idx := len(f.listeners) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeProvider) setSession(session identity.Session) {
	f.mu.Lock()
	f.session = session
	f.mu.Unlock()
}

func (f *fakeProvider) emit(event identity.AuthEvent, session identity.Session) {
	f.mu.Lock()
	listeners := make([]identity.AuthStateListener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			l(event, session)
		}
	}
}

func (f *fakeProvider) signOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOut
}

func (f *fakeProvider) metadataPushes() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.metadata))
	copy(out, f.metadata)
	return out
}

func (f *fakeProvider) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, l := range f.listeners {
		if l != nil {
			count++
		}
	}
	return count
}

func testSession(userID, email string) *identity.SessionObject {
	expiresAt := time.Now().Add(time.Hour)
	return &identity.SessionObject{
		AccessToken:  "token-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    &expiresAt,
		User: &identity.Identity{
			ID:    userID,
			Email: email,
		},
	}
}
