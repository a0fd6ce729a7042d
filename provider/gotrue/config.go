package gotrue

import (
	"net/http"
	"strings"
	"time"
)

// Config holds GoTrue connection settings.
type Config struct {
	// BaseURL is the GoTrue endpoint (e.g. "https://id.example.com/auth/v1").
	BaseURL string

	// APIKey is sent as the "apikey" header on every request.
	APIKey string

	// HTTPClient overrides the default client (optional).
	HTTPClient *http.Client

	// AutoRefresh schedules a token refresh before the access token expires.
	AutoRefresh bool

	// RefreshLeeway is how long before expiry the refresh fires.
	// Default: 30 seconds.
	RefreshLeeway time.Duration

	// RequestTimeout bounds individual HTTP calls.
	// Default: 15 seconds.
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		AutoRefresh:    true,
		RefreshLeeway:  30 * time.Second,
		RequestTimeout: 15 * time.Second,
	}
}

func (c Config) endpoint(path string) string {
	base := strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c Config) refreshLeeway() time.Duration {
	if c.RefreshLeeway > 0 {
		return c.RefreshLeeway
	}
	return 30 * time.Second
}
