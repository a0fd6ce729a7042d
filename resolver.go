package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ResolverState is the single authoritative answer to "who is the current
// user". Guards render a pending state while IsLoading; once loading settles,
// IsAuthenticated and User decide the route outcome.
type ResolverState struct {
	IsLoading       bool          `json:"is_loading"`
	IsAuthenticated bool          `json:"is_authenticated"`
	User            *ResolvedUser `json:"user,omitempty"`
}

// StateListener observes resolver state transitions.
type StateListener func(state ResolverState)

// SessionResolver reconciles the provider session and the profile store into
// one ResolverState, and keeps it updated as the provider emits auth events.
//
// Concurrent events are serialized by a monotonic sequence counter: every
// resolution is tagged with the counter value at its start and committed only
// if no newer event has bumped it since, so an in-flight resolution for an
// older event can never overwrite the result of a newer one.
type SessionResolver struct {
	provider Provider
	profiles Profiles
	sync     *IdentitySync
	logger   Logger

	mu           sync.Mutex
	state        ResolverState
	session      Session
	seq          uint64
	initialized  bool
	closed       bool
	detach       Unsubscribe
	listeners    map[int]StateListener
	nextListener int
}

type ResolverOption func(*SessionResolver)

// WithResolverLogger overrides the resolver logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *SessionResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverIdentitySync overrides the metadata sync used after profile
// writes. By default one is built from the provider.
func WithResolverIdentitySync(sync *IdentitySync) ResolverOption {
	return func(r *SessionResolver) {
		if sync != nil {
			r.sync = sync
		}
	}
}

func NewSessionResolver(provider Provider, profiles Profiles, opts ...ResolverOption) *SessionResolver {
	r := &SessionResolver{
		provider:  provider,
		profiles:  profiles,
		logger:    defLogger{},
		state:     ResolverState{IsLoading: true},
		listeners: map[int]StateListener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.sync == nil {
		r.sync = NewIdentitySync(provider, WithIdentitySyncLogger(r.logger))
	}

	return r
}

// Initialize fetches the current provider session and resolves it, then keeps
// listening for auth events. Subsequent calls are no-ops. A provider outage
// resolves to unauthenticated rather than failing: route rendering must never
// hard-fail on a transient backend error.
func (r *SessionResolver) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrResolverClosed
	}
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.initialized = true
	r.mu.Unlock()

	detach := r.provider.OnAuthStateChange(func(event AuthEvent, session Session) {
		r.OnAuthEvent(context.Background(), event, session)
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if detach != nil {
			detach()
		}
		return ErrResolverClosed
	}
	r.detach = detach
	r.mu.Unlock()

	session, err := r.provider.GetSession(ctx)
	if err != nil {
		r.logger.Warn("initial session fetch failed", "error", err)
	}
	if err != nil || session == nil || session.GetUserID() == "" {
		r.commit(r.bumpSeq(), ResolverState{}, nil)
		return nil
	}

	r.resolveSession(ctx, r.bumpSeq(), session)
	return nil
}

// OnAuthEvent applies a provider auth event. SIGNED_IN and TOKEN_REFRESHED
// re-run resolution; SIGNED_OUT clears the resolved user.
func (r *SessionResolver) OnAuthEvent(ctx context.Context, event AuthEvent, session Session) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	switch event {
	case AuthEventSignedOut:
		r.seq++
		r.session = nil
		r.state = ResolverState{}
		notify := r.notifySnapshot()
		r.mu.Unlock()
		notify()
	case AuthEventSignedIn, AuthEventTokenRefreshed:
		if session == nil || session.GetUserID() == "" {
			r.seq++
			r.session = nil
			r.state = ResolverState{}
			notify := r.notifySnapshot()
			r.mu.Unlock()
			notify()
			return
		}
		r.seq++
		seq := r.seq
		r.session = session
		r.state.IsLoading = true
		notify := r.notifySnapshot()
		r.mu.Unlock()
		notify()
		r.resolveSession(ctx, seq, session)
	default:
		r.logger.Debug("ignoring auth event", "event", event)
		r.mu.Unlock()
	}
}

// Login delegates to the provider. It does not resolve directly; resolution
// happens on the SIGNED_IN event the provider emits. Failures are surfaced to
// the caller for user-facing display.
func (r *SessionResolver) Login(ctx context.Context, email, password string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrResolverClosed
	}
	r.mu.Unlock()

	if _, err := r.provider.SignInWithPassword(ctx, email, password); err != nil {
		return err
	}
	return nil
}

// Logout clears the resolved user and signs out of the provider. Idempotent:
// a sign-out failure (or being already signed out) is logged and swallowed,
// and the local state always ends unauthenticated.
func (r *SessionResolver) Logout(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.seq++
	r.session = nil
	r.state = ResolverState{}
	notify := r.notifySnapshot()
	r.mu.Unlock()
	notify()

	if err := r.provider.SignOut(ctx); err != nil {
		r.logger.Warn("provider sign out failed", "error", err)
	}
}

// UpdateProfile writes through the profile store, pushes the metadata sync,
// and updates the in-memory resolved user only on write success. A row that
// vanished between read and write falls back to create.
func (r *SessionResolver) UpdateProfile(ctx context.Context, update ProfileUpdate) (*ResolvedUser, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrResolverClosed
	}
	if !r.state.IsAuthenticated || r.state.User == nil {
		r.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	current := r.state.User
	session := r.session
	r.mu.Unlock()

	// metadata-only users (non-uuid subjects) have no profile row to update
	if !HasUserUUID(session) {
		return nil, ErrNotAuthenticated
	}

	uid, err := uuid.Parse(current.ID)
	if err != nil {
		return nil, ErrNotAuthenticated
	}

	profile, err := r.profiles.Update(ctx, uid, update)
	if err != nil && IsNotFound(err) {
		base := profileFromResolved(current)
		update.Apply(base)
		profile, err = r.profiles.Create(ctx, base)
	}
	if err != nil {
		return nil, err
	}

	r.sync.Push(ctx, profile)

	id := identityFromSession(session)
	if id == nil {
		id = &Identity{ID: current.ID, Email: current.Email}
	}
	merged := MergeUser(*id, profile)

	notify := func() {}
	r.mu.Lock()
	if !r.closed && r.state.User != nil && r.state.User.ID == current.ID {
		r.state.User = merged
		notify = r.notifySnapshot()
	}
	r.mu.Unlock()
	notify()

	return merged, nil
}

// State returns a snapshot of the current resolver state.
func (r *SessionResolver) State() ResolverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HasModuleAccess checks the resolved user's module grants. False while
// loading or unauthenticated.
func (r *SessionResolver) HasModuleAccess(module Module) bool {
	state := r.State()
	return state.IsAuthenticated && state.User.HasModuleAccess(module)
}

// Subscribe registers a state listener and returns its unsubscribe handle.
// Listeners are not invoked for the current state; read State for that.
func (r *SessionResolver) Subscribe(listener StateListener) Unsubscribe {
	if listener == nil {
		return func() {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return func() {}
	}

	id := r.nextListener
	r.nextListener++
	r.listeners[id] = listener

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Close tears down the resolver. Pending resolutions completing after Close
// are discarded; no listener fires afterwards.
func (r *SessionResolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	detach := r.detach
	r.detach = nil
	r.listeners = map[int]StateListener{}
	r.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (r *SessionResolver) bumpSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// resolveSession resolves a profile for the session's identity and commits
// the result if the tagged sequence is still current.
func (r *SessionResolver) resolveSession(ctx context.Context, seq uint64, session Session) {
	id := identityFromSession(session)
	if id == nil {
		r.commit(seq, ResolverState{}, nil)
		return
	}

	user := r.resolveProfile(ctx, *id)
	r.commit(seq, ResolverState{IsAuthenticated: true, User: user}, session)
}

// resolveProfile produces a ResolvedUser from the store, creating the profile
// row on first resolution, reading back on concurrent create, and degrading
// to identity metadata on transient failure. Exactly one create attempt per
// resolution.
func (r *SessionResolver) resolveProfile(ctx context.Context, id Identity) *ResolvedUser {
	uid, err := uuid.Parse(id.ID)
	if err != nil {
		r.logger.Warn("identity id is not a uuid, using metadata only", "id", id.ID)
		return MergeUser(id, nil)
	}

	profile, err := r.profiles.Get(ctx, uid)
	if err == nil {
		return MergeUser(id, profile)
	}

	if !IsNotFound(err) {
		r.logger.Warn("profile fetch failed, falling back to identity metadata", "id", id.ID, "error", err)
		return MergeUser(id, nil)
	}

	defaults, derr := ProfileDefaultsFromIdentity(id)
	if derr != nil {
		r.logger.Warn("unable to build profile defaults", "id", id.ID, "error", derr)
		return MergeUser(id, nil)
	}

	created, cerr := r.profiles.Create(ctx, defaults)
	if cerr == nil {
		return MergeUser(id, created)
	}

	if IsConflict(cerr) {
		// lost the create race; the row exists, read it back through update
		updated, uerr := r.profiles.Update(ctx, uid, ProfileUpdate{})
		if uerr == nil {
			return MergeUser(id, updated)
		}
		r.logger.Warn("profile read-back after conflict failed", "id", id.ID, "error", uerr)
		return MergeUser(id, nil)
	}

	r.logger.Warn("profile create failed, falling back to identity metadata", "id", id.ID, "error", cerr)
	return MergeUser(id, nil)
}

// commit applies a resolution outcome unless a newer event superseded it or
// the resolver was torn down in the meantime.
func (r *SessionResolver) commit(seq uint64, state ResolverState, session Session) {
	r.mu.Lock()
	if r.closed || seq != r.seq {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.session = session
	notify := r.notifySnapshot()
	r.mu.Unlock()
	notify()
}

// notifySnapshot captures the listeners and state under the lock and returns
// the delivery closure. Callers invoke it after unlocking, so a listener can
// call back into the resolver without deadlocking.
func (r *SessionResolver) notifySnapshot() func() {
	if len(r.listeners) == 0 {
		return func() {}
	}
	state := r.state
	listeners := make([]StateListener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	return func() {
		for _, l := range listeners {
			l(state)
		}
	}
}

func identityFromSession(session Session) *Identity {
	if session == nil {
		return nil
	}
	if id := session.GetIdentity(); id != nil {
		return id
	}
	if session.GetUserID() == "" {
		return nil
	}
	return &Identity{ID: session.GetUserID(), Email: session.GetEmail()}
}

func profileFromResolved(user *ResolvedUser) *Profile {
	profile := &Profile{
		Email:   user.Email,
		Name:    user.Name,
		Role:    user.Role,
		Avatar:  user.Avatar,
		Modules: append([]Module{}, user.Modules...),
	}

	if uid, err := uuid.Parse(user.ID); err == nil {
		profile.ID = uid
	}
	if eid, err := uuid.Parse(user.EmployeeID); err == nil {
		profile.EmployeeID = &eid
	}

	return profile
}
