package identity

import (
	"context"
	"sync"
)

// PresenceBinding ties a SessionResolver to a PresenceChannel: it subscribes
// the channel and re-announces the resolved user whenever the channel reaches
// SUBSCRIBED or the identity changes while subscribed. A track attempt that
// lands before the handshake completes fails NotReady and is simply retried
// on the next status transition, bounded by the binding's own lifecycle.
type PresenceBinding struct {
	resolver *SessionResolver
	channel  *PresenceChannel
	logger   Logger

	mu            sync.Mutex
	lastTrackedID string
	subscribed    bool
	closed        bool
	detachState   Unsubscribe
}

type PresenceBindingOption func(*PresenceBinding)

// WithBindingLogger overrides the binding logger.
func WithBindingLogger(logger Logger) PresenceBindingOption {
	return func(b *PresenceBinding) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// BindPresence subscribes the channel, interposing on the consumer callbacks
// to drive re-tracking. onUsers and onStatus may be nil when the consumer
// only wants the announce side.
func BindPresence(
	ctx context.Context,
	resolver *SessionResolver,
	channel *PresenceChannel,
	onUsers UsersListener,
	onStatus StatusListener,
	opts ...PresenceBindingOption,
) (*PresenceBinding, error) {
	b := &PresenceBinding{
		resolver: resolver,
		channel:  channel,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	err := channel.Subscribe(ctx,
		func(users []PresenceEntry) {
			if onUsers != nil {
				onUsers(users)
			}
		},
		func(status ChannelStatus) {
			b.onChannelStatus(status)
			if onStatus != nil {
				onStatus(status)
			}
		},
	)
	if err != nil {
		return nil, err
	}

	b.detachState = resolver.Subscribe(func(state ResolverState) {
		b.onResolverState(state)
	})

	return b, nil
}

// Close detaches from the resolver and tears the channel down. Idempotent.
func (b *PresenceBinding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detach := b.detachState
	b.detachState = nil
	b.mu.Unlock()

	if detach != nil {
		detach()
	}
	b.channel.Unsubscribe()
}

func (b *PresenceBinding) onChannelStatus(status ChannelStatus) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subscribed = status == StatusSubscribed
	if !b.subscribed {
		// a dropped connection must re-announce after resubscribe
		b.lastTrackedID = ""
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.trackCurrent()
}

func (b *PresenceBinding) onResolverState(state ResolverState) {
	b.mu.Lock()
	if b.closed || !b.subscribed {
		b.mu.Unlock()
		return
	}
	if state.User == nil {
		b.lastTrackedID = ""
		b.mu.Unlock()
		return
	}
	if state.User.ID == b.lastTrackedID {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.trackCurrent()
}

func (b *PresenceBinding) trackCurrent() {
	state := b.resolver.State()
	if !state.IsAuthenticated || state.User == nil {
		return
	}

	entry := EntryForUser(state.User)
	if err := b.channel.Track(entry); err != nil {
		if IsNotReady(err) {
			// retried on the next status transition
			b.logger.Debug("presence track not ready", "user_id", entry.UserID)
			return
		}
		b.logger.Warn("presence track failed", "user_id", entry.UserID, "error", err)
		return
	}

	b.mu.Lock()
	if !b.closed {
		b.lastTrackedID = entry.UserID
	}
	b.mu.Unlock()
}
