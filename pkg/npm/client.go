package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPITimeout bounds every request to the proxy manager API
const DefaultAPITimeout = 30 * time.Second

// ErrUnauthorized is returned when the API rejects the credentials
var ErrUnauthorized = errors.New("proxy manager API rejected the credentials")

// Flag is a boolean the API may encode as true/false or 1/0
type Flag bool

// UnmarshalJSON accepts booleans and integers
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// ProxyHost is a proxy host as listed by the proxy manager
type ProxyHost struct {
	ID          int      `json:"id"`
	DomainNames []string `json:"domain_names"`
	Enabled     Flag     `json:"enabled"`
	SSLForced   Flag     `json:"ssl_forced"`
}

// PrimaryDomain returns the first domain name, or "" when there is none
func (h ProxyHost) PrimaryDomain() string {
	if len(h.DomainNames) == 0 {
		return ""
	}
	return h.DomainNames[0]
}

// HostLister lists proxy hosts
type HostLister interface {
	ProxyHosts(ctx context.Context) ([]ProxyHost, error)
}

// ClientConfig holds proxy manager API configuration
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client is a read-only client of the proxy manager API. It logs in
// lazily and logs in again once when a token is rejected.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a proxy manager API client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAPITimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: cfg.Logger,
	}
}

type tokenRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges the configured credentials for an API token
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(tokenRequest{Identity: c.username, Secret: c.password})
	if err != nil {
		return fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tokens", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if token.Token == "" {
		return fmt.Errorf("login response carried no token")
	}

	c.mu.Lock()
	c.token = token.Token
	c.mu.Unlock()
	return nil
}

// ProxyHosts lists every proxy host
func (c *Client) ProxyHosts(ctx context.Context) ([]ProxyHost, error) {
	var hosts []ProxyHost
	if err := c.getJSON(ctx, "/api/nginx/proxy-hosts", &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.currentToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request to %s failed: %w", path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			c.logger.Info("proxy manager token rejected, logging in again")
			c.clearToken()
			continue
		}

		err = decodeResponse(resp, path, out)
		_ = resp.Body.Close()
		return err
	}
	return ErrUnauthorized
}

func decodeResponse(resp *http.Response, path string, out any) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
