package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ChannelStatus is the broadcast channel lifecycle token. The realtime layer
// owns the exact spelling; this package only pattern-matches on it.
type ChannelStatus = string

const (
	StatusInit       ChannelStatus = "INIT"
	StatusJoining    ChannelStatus = "joining"
	StatusSubscribed ChannelStatus = "SUBSCRIBED"
	StatusClosed     ChannelStatus = "CLOSED"
	StatusErrored    ChannelStatus = "error"
)

// PresenceEntry is the ephemeral per-connection announcement of an online
// user. It lives only in the channel's broadcast state and is superseded
// whenever the same user id re-announces.
type PresenceEntry struct {
	UserID     string    `json:"user_id"`
	Role       UserRole  `json:"role,omitempty"`
	EmployeeID string    `json:"employee_id,omitempty"`
	OnlineAt   time.Time `json:"online_at"`
}

// EntryForUser builds the presence announcement for a resolved user.
func EntryForUser(user *ResolvedUser) PresenceEntry {
	if user == nil {
		return PresenceEntry{}
	}
	return PresenceEntry{
		UserID:     user.ID,
		Role:       user.Role,
		EmployeeID: user.EmployeeID,
	}
}

// TransportCallbacks deliver channel lifecycle and presence traffic upward.
type TransportCallbacks struct {
	OnStatus func(status ChannelStatus)
	// OnState replaces the whole presence set (initial sync).
	OnState func(entries []PresenceEntry)
	// OnDiff applies incremental joins and leaves.
	OnDiff func(joins []PresenceEntry, leaves []string)
}

// Transport is one connection-oriented broadcast channel. Join opens the
// connection and reports the handshake through OnStatus; connection-level
// failures after Join never surface as errors, only as status transitions.
type Transport interface {
	Join(ctx context.Context, callbacks TransportCallbacks) error
	Track(entry PresenceEntry) error
	Leave() error
}

// UsersListener receives the full deduplicated online set on every change.
type UsersListener func(users []PresenceEntry)

// StatusListener receives each lifecycle transition.
type StatusListener func(status ChannelStatus)

// PresenceChannel manages one broadcast channel's lifecycle and exposes the
// live set of online users. Entries are deduplicated by user id with the
// latest announce winning. Tracking is accepted only while the channel is
// confirmed SUBSCRIBED; earlier attempts fail and are never queued.
//
// The channel does not auto-reconnect: errors flow through the status
// listener and the consumer decides whether to build a new channel.
type PresenceChannel struct {
	transport Transport
	logger    Logger
	now       func() time.Time

	mu         sync.Mutex
	status     ChannelStatus
	entries    map[string]PresenceEntry
	onUsers    UsersListener
	onStatus   StatusListener
	subscribed bool
	closed     bool
}

type PresenceOption func(*PresenceChannel)

// WithPresenceLogger overrides the channel logger.
func WithPresenceLogger(logger Logger) PresenceOption {
	return func(p *PresenceChannel) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPresenceClock injects a custom clock (useful for tests).
func WithPresenceClock(clock func() time.Time) PresenceOption {
	return func(p *PresenceChannel) {
		if clock != nil {
			p.now = clock
		}
	}
}

func NewPresenceChannel(transport Transport, opts ...PresenceOption) *PresenceChannel {
	p := &PresenceChannel{
		transport: transport,
		logger:    defLogger{},
		now:       time.Now,
		status:    StatusInit,
		entries:   map[string]PresenceEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Subscribe opens the channel connection. At most one subscription per
// channel instance; build a new channel to reconnect. onStatus fires with
// each lifecycle transition, onUsers with every presence change carrying the
// full deduplicated set.
func (p *PresenceChannel) Subscribe(ctx context.Context, onUsers UsersListener, onStatus StatusListener) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	if p.subscribed {
		p.mu.Unlock()
		return ErrAlreadySubscribed
	}
	p.subscribed = true
	p.onUsers = onUsers
	p.onStatus = onStatus
	p.mu.Unlock()

	err := p.transport.Join(ctx, TransportCallbacks{
		OnStatus: p.handleStatus,
		OnState:  p.handleState,
		OnDiff:   p.handleDiff,
	})
	if err != nil {
		// dial never happened; leave the channel reusable
		p.mu.Lock()
		if !p.closed {
			p.subscribed = false
			p.onUsers = nil
			p.onStatus = nil
		}
		p.mu.Unlock()
	}
	return err
}

// Track publishes the local user's presence entry. Fails with NotReady unless
// the channel has reported SUBSCRIBED; the caller re-attempts on the next
// status transition, this package never queues or retries the announce.
func (p *PresenceChannel) Track(entry PresenceEntry) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	if p.status != StatusSubscribed {
		status := p.status
		p.mu.Unlock()
		clone := ErrChannelNotReady.Clone()
		if clone == nil {
			return ErrChannelNotReady
		}
		clone.Source = ErrChannelNotReady
		return clone.WithMetadata(map[string]any{"status": status})
	}
	if entry.OnlineAt.IsZero() {
		entry.OnlineAt = p.now()
	}
	p.mu.Unlock()

	return p.transport.Track(entry)
}

// Unsubscribe closes the channel. Safe to call multiple times; after teardown
// no further listener fires.
func (p *PresenceChannel) Unsubscribe() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.status = StatusClosed
	p.onUsers = nil
	p.onStatus = nil
	p.entries = map[string]PresenceEntry{}
	p.mu.Unlock()

	if err := p.transport.Leave(); err != nil {
		p.logger.Warn("presence channel leave failed", "error", err)
	}
}

// Status returns the last observed lifecycle status.
func (p *PresenceChannel) Status() ChannelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// OnlineUsers returns the current deduplicated online set, ordered by user id
// for deterministic output.
func (p *PresenceChannel) OnlineUsers() []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *PresenceChannel) handleStatus(status ChannelStatus) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.status = status
	cb := p.onStatus
	p.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

func (p *PresenceChannel) handleState(entries []PresenceEntry) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.entries = map[string]PresenceEntry{}
	applyEntries(p.entries, entries)
	users := p.snapshotLocked()
	cb := p.onUsers
	p.mu.Unlock()

	if cb != nil {
		cb(users)
	}
}

func (p *PresenceChannel) handleDiff(joins []PresenceEntry, leaves []string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for _, id := range leaves {
		delete(p.entries, id)
	}
	applyEntries(p.entries, joins)
	users := p.snapshotLocked()
	cb := p.onUsers
	p.mu.Unlock()

	if cb != nil {
		cb(users)
	}
}

func (p *PresenceChannel) snapshotLocked() []PresenceEntry {
	users := make([]PresenceEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		users = append(users, entry)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID < users[j].UserID
	})
	return users
}

// applyEntries merges announcements keyed by user id. The later timestamp
// wins; with equal timestamps the later entry in the batch wins.
func applyEntries(into map[string]PresenceEntry, entries []PresenceEntry) {
	for _, entry := range entries {
		if entry.UserID == "" {
			continue
		}
		if existing, ok := into[entry.UserID]; ok {
			if entry.OnlineAt.Before(existing.OnlineAt) {
				continue
			}
		}
		into[entry.UserID] = entry
	}
}
