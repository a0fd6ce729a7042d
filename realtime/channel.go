package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/gorilla/websocket"
	identity "github.com/kantorhub/go-identity"
)

var _ identity.Transport = (*Channel)(nil)

// Config holds the realtime channel connection settings.
type Config struct {
	// URL is the websocket endpoint (e.g. "wss://rt.example.com/socket/websocket").
	URL string

	// APIKey is appended as the "apikey" query parameter (optional).
	APIKey string

	// Topic is the channel topic to join (e.g. "presence:online-users").
	Topic string

	// HeartbeatInterval keeps the socket alive.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Dialer overrides the default websocket dialer (optional).
	Dialer *websocket.Dialer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(wsURL, topic string) Config {
	return Config{
		URL:               wsURL,
		Topic:             topic,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Channel is a phoenix-style channel over a websocket implementing
// identity.Transport. Join opens the socket and sends phx_join; the join
// acknowledgment, presence sync, and connection failures all surface through
// the callbacks, never as method errors.
type Channel struct {
	config Config
	logger identity.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	callbacks  identity.TransportCallbacks
	send       chan message
	done       chan struct{}
	writerDone chan struct{}
	joined     bool
	closed     bool
	refSeq     uint64
	joinRef    string
}

type Option func(*Channel)

func WithLogger(logger identity.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChannel creates a channel. The socket is not dialed until Join.
func NewChannel(cfg Config, opts ...Option) (*Channel, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime: websocket URL is required", errors.CategoryBadInput).
			WithTextCode("MISSING_URL")
	}
	if cfg.Topic == "" {
		return nil, errors.New("realtime: channel topic is required", errors.CategoryBadInput).
			WithTextCode("MISSING_TOPIC")
	}

	c := &Channel{
		config: cfg,
		logger: discardLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Join dials the socket and sends phx_join. It returns an error only for
// immediate dial failures; the handshake outcome arrives through OnStatus.
func (c *Channel) Join(ctx context.Context, callbacks identity.TransportCallbacks) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return identity.ErrChannelClosed
	}
	if c.joined {
		c.mu.Unlock()
		return identity.ErrAlreadySubscribed
	}
	c.joined = true
	c.callbacks = callbacks
	c.mu.Unlock()

	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	dialer := c.config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return errors.Wrap(err, errors.CategoryInternal, "realtime: failed to dial websocket").
			WithMetadata(map[string]any{"url": c.config.URL})
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan message, 32)
	c.done = make(chan struct{})
	c.writerDone = make(chan struct{})
	c.joinRef = c.nextRefLocked()
	join := message{
		Topic:   c.config.Topic,
		Event:   eventJoin,
		Payload: json.RawMessage(`{}`),
		Ref:     c.joinRef,
		JoinRef: c.joinRef,
	}
	c.mu.Unlock()

	go c.writePump(conn)
	go c.readPump(conn)
	go c.heartbeat()

	c.emitStatus(identity.StatusJoining)
	c.enqueue(join)
	return nil
}

// Track announces the entry on the joined topic.
func (c *Channel) Track(entry identity.PresenceEntry) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return identity.ErrChannelClosed
	}
	ref := c.nextRefLocked()
	joinRef := c.joinRef
	c.mu.Unlock()

	payload, err := json.Marshal(metaFromEntry(entry))
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "realtime: failed to encode presence entry")
	}

	if !c.enqueue(message{
		Topic:   c.config.Topic,
		Event:   eventTrack,
		Payload: payload,
		Ref:     ref,
		JoinRef: joinRef,
	}) {
		return errors.New("realtime: send buffer full", errors.CategoryOperation).
			WithTextCode("SEND_BUFFER_FULL")
	}

	return nil
}

// Leave sends phx_leave and tears the socket down. Safe to call more than
// once; only the first call does anything.
func (c *Channel) Leave() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	done := c.done
	writerDone := c.writerDone
	ref := c.nextRefLocked()
	joinRef := c.joinRef
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	// the socket allows a single concurrent writer: stop the pump and wait
	// for it to exit before writing the leave frame from this goroutine
	close(done)
	if writerDone != nil {
		select {
		case <-writerDone:
		case <-time.After(2 * time.Second):
		}
	}

	leave := message{
		Topic:   c.config.Topic,
		Event:   eventLeave,
		Payload: json.RawMessage(`{}`),
		Ref:     ref,
		JoinRef: joinRef,
	}
	if data, err := json.Marshal(leave); err == nil {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}

	return conn.Close()
}

func (c *Channel) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryBadInput, "realtime: invalid websocket URL")
	}
	if c.config.APIKey != "" {
		q := u.Query()
		q.Set("apikey", c.config.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Channel) nextRefLocked() string {
	c.refSeq++
	return strconv.FormatUint(c.refSeq, 10)
}

func (c *Channel) enqueue(msg message) bool {
	c.mu.Lock()
	send := c.send
	done := c.done
	c.mu.Unlock()

	if send == nil {
		return false
	}

	select {
	case send <- msg:
		return true
	case <-done:
		return false
	default:
		return false
	}
}

func (c *Channel) writePump(conn *websocket.Conn) {
	c.mu.Lock()
	send := c.send
	done := c.done
	writerDone := c.writerDone
	c.mu.Unlock()

	defer close(writerDone)

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				c.logger.Error("realtime write deadline: %v", err)
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("realtime encode %s: %v", msg.Event, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("realtime write %s: %v", msg.Event, err)
				return
			}
		}
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		teardown := !c.closed
		c.mu.Unlock()
		if teardown {
			conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				c.emitStatus(identity.StatusClosed)
			} else {
				c.logger.Warn("realtime read error: %v", err)
				c.emitStatus(identity.StatusErrored)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Channel) handleMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("realtime bad frame: %v", err)
		return
	}

	switch msg.Event {
	case eventReply:
		c.handleReply(msg)
	case eventState:
		entries, err := decodeState(msg.Payload)
		if err != nil {
			c.logger.Warn("realtime bad presence_state: %v", err)
			return
		}
		if cb := c.onState(); cb != nil {
			cb(entries)
		}
	case eventDiff:
		joins, leaves, err := decodeDiff(msg.Payload)
		if err != nil {
			c.logger.Warn("realtime bad presence_diff: %v", err)
			return
		}
		if cb := c.onDiff(); cb != nil {
			cb(joins, leaves)
		}
	case eventError:
		c.emitStatus(identity.StatusErrored)
	case eventClose:
		c.emitStatus(identity.StatusClosed)
	default:
		c.logger.Debug("realtime ignoring event %s", msg.Event)
	}
}

func (c *Channel) handleReply(msg message) {
	c.mu.Lock()
	isJoinAck := msg.Ref == c.joinRef
	c.mu.Unlock()

	if !isJoinAck {
		return
	}

	var reply replyPayload
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		c.logger.Warn("realtime bad join reply: %v", err)
		c.emitStatus(identity.StatusErrored)
		return
	}

	if reply.Status == "ok" {
		c.emitStatus(identity.StatusSubscribed)
	} else {
		c.logger.Warn("realtime join rejected: %s", string(reply.Response))
		c.emitStatus(identity.StatusErrored)
	}
}

func (c *Channel) heartbeat() {
	interval := c.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			ref := c.nextRefLocked()
			c.mu.Unlock()
			c.enqueue(message{
				Topic:   heartbeatTopic,
				Event:   eventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     ref,
			})
		}
	}
}

func (c *Channel) emitStatus(status identity.ChannelStatus) {
	c.mu.Lock()
	cb := c.callbacks.OnStatus
	c.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

func (c *Channel) onState() func([]identity.PresenceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks.OnState
}

func (c *Channel) onDiff() func([]identity.PresenceEntry, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks.OnDiff
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
