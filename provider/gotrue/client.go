package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	identity "github.com/kantorhub/go-identity"
)

var _ identity.Provider = (*Client)(nil)

// Client implements identity.Provider against a GoTrue server. It owns the
// credential lifecycle: password grant, refresh, sign out, and the auth event
// stream consumed by the session resolver.
type Client struct {
	config Config
	http   *http.Client
	logger identity.Logger

	mu        sync.Mutex
	session   *identity.SessionObject
	listeners map[int]identity.AuthStateListener
	nextID    int
	refresh   *time.Timer
	closed    bool
}

type Option func(*Client)

func WithLogger(logger identity.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a GoTrue client. No network call is made until a session
// operation runs.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gotrue: base URL is required", errors.CategoryBadInput).
			WithTextCode("MISSING_BASE_URL")
	}

	c := &Client{
		config:    cfg,
		http:      cfg.httpClient(),
		logger:    discardLogger{},
		listeners: map[int]identity.AuthStateListener{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GetSession returns the current session, refreshing it when the access token
// is about to lapse. A nil session with nil error means signed out.
func (c *Client) GetSession(ctx context.Context) (identity.Session, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}

	if !session.IsExpired(time.Now()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		return nil, nil
	}

	return c.RefreshSession(ctx)
}

// SignInWithPassword performs the password grant and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (identity.Session, error) {
	payload := map[string]string{"email": email, "password": password}

	var token tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", payload, &token); err != nil {
		return nil, err
	}

	session := c.sessionFromToken(token)
	c.setSession(session, identity.AuthEventSignedIn)
	return session, nil
}

// RefreshSession exchanges the refresh token and emits TOKEN_REFRESHED. On a
// rejected refresh token the local session is dropped and SIGNED_OUT fires.
func (c *Client) RefreshSession(ctx context.Context) (identity.Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current == nil || current.RefreshToken == "" {
		return nil, identity.ErrNotAuthenticated
	}

	payload := map[string]string{"refresh_token": current.RefreshToken}

	var token tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", payload, &token); err != nil {
		if isAuthRejection(err) {
			c.setSession(nil, identity.AuthEventSignedOut)
		}
		return nil, err
	}

	session := c.sessionFromToken(token)
	c.setSession(session, identity.AuthEventTokenRefreshed)
	return session, nil
}

// SignOut revokes the session server side, then clears it locally and emits
// SIGNED_OUT. The local session is cleared even when revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	err := c.do(ctx, http.MethodPost, "/logout", session.AccessToken, nil, nil)
	c.setSession(nil, identity.AuthEventSignedOut)

	if err != nil && !isAuthRejection(err) {
		return err
	}
	return nil
}

// UpdateUserMetadata patches user_metadata on the current user.
func (c *Client) UpdateUserMetadata(ctx context.Context, data map[string]any) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return identity.ErrNotAuthenticated
	}

	payload := map[string]any{"data": data}

	var user userPayload
	if err := c.do(ctx, http.MethodPut, "/user", session.AccessToken, payload, &user); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil && c.session.User != nil && c.session.User.ID == user.ID {
		c.session.User.Metadata = user.UserMetadata
	}
	c.mu.Unlock()

	return nil
}

// ResetPasswordForEmail asks GoTrue to send a recovery email. GoTrue replies
// 200 for unknown addresses, so absence never leaks through this call.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	payload := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, path, "", payload, nil)
}

// OnAuthStateChange registers a listener for session lifecycle events.
func (c *Client) OnAuthStateChange(listener identity.AuthStateListener) identity.Unsubscribe {
	if listener == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close stops the refresh timer and drops all listeners. The client is not
// usable afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
	c.listeners = map[int]identity.AuthStateListener{}
	c.mu.Unlock()
}

func (c *Client) setSession(session *identity.SessionObject, event identity.AuthEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.session = session

	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}

	if session != nil && c.config.AutoRefresh && session.RefreshToken != "" && session.ExpiresAt != nil {
		delay := time.Until(session.ExpiresAt.Add(-c.config.refreshLeeway()))
		if delay < time.Second {
			delay = time.Second
		}
		c.refresh = time.AfterFunc(delay, c.backgroundRefresh)
	}

	listeners := make([]identity.AuthStateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	var emitted identity.Session
	if session != nil {
		emitted = session
	}
	for _, l := range listeners {
		l(event, emitted)
	}
}

func (c *Client) backgroundRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := c.RefreshSession(ctx); err != nil {
		c.logger.Warn("background token refresh failed: %v", err)
	}
}

func (c *Client) sessionFromToken(token tokenResponse) *identity.SessionObject {
	session := &identity.SessionObject{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		User: &identity.Identity{
			ID:       token.User.ID,
			Email:    token.User.Email,
			Metadata: token.User.UserMetadata,
		},
	}

	if token.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		session.ExpiresAt = &expiresAt
	}

	return session
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "gotrue: failed to encode request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.endpoint(path), reader)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "gotrue: failed to build request")
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("apikey", c.config.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "gotrue: request failed").
			WithMetadata(map[string]any{"path": path})
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return mapStatusError(res, path)
	}

	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "gotrue: failed to decode response").
			WithMetadata(map[string]any{"path": path})
	}

	return nil
}

func mapStatusError(res *http.Response, path string) error {
	var apiErr apiError
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	_ = json.Unmarshal(raw, &apiErr)

	msg := apiErr.message()
	meta := map[string]any{"path": path, "status": res.StatusCode}

	switch res.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(msg), "credential") || strings.Contains(path, "grant_type=password") {
			clone := identity.ErrInvalidCredentials.Clone()
			clone.Source = identity.ErrInvalidCredentials
			return clone.WithMetadata(meta)
		}
		return errors.New(fmt.Sprintf("gotrue: %s", msg), errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest).
			WithMetadata(meta)
	case http.StatusUnauthorized, http.StatusForbidden:
		clone := identity.ErrNotAuthenticated.Clone()
		clone.Source = identity.ErrNotAuthenticated
		return clone.WithMetadata(meta)
	case http.StatusNotFound:
		return errors.New(fmt.Sprintf("gotrue: %s", msg), errors.CategoryNotFound).
			WithCode(errors.CodeNotFound).
			WithMetadata(meta)
	case http.StatusTooManyRequests:
		return errors.New("gotrue: rate limited", errors.CategoryRateLimit).
			WithMetadata(meta)
	default:
		return errors.New(fmt.Sprintf("gotrue: %s", msg), errors.CategoryInternal).
			WithCode(errors.CodeInternal).
			WithMetadata(meta)
	}
}

func isAuthRejection(err error) bool {
	return errors.Is(err, identity.ErrNotAuthenticated) ||
		errors.Is(err, identity.ErrInvalidCredentials)
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type apiError struct {
	Message          string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e apiError) message() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Error != "":
		return e.Error
	default:
		return "request rejected"
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
