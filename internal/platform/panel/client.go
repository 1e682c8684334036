package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
)

// RemoteUser is an account on the panel.
type RemoteUser struct {
	ID        string     `json:"id"`
	Username  string     `json:"username,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Status    string     `json:"status,omitempty"`
}

type Server struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`
	Online  bool   `json:"online,omitempty"`
}

// DeliveryLink is returned under either "url" or "link" depending on panel version.
type DeliveryLink struct {
	URL  string `json:"url,omitempty"`
	Link string `json:"link,omitempty"`
}

func (d DeliveryLink) String() string {
	if d.URL != "" {
		return d.URL
	}
	return d.Link
}

// StatusError is a non-2xx answer from the panel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("panel %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Client talks to the VPN panel API. Every call has its own timeout and
// retries transient failures with linear backoff before giving up.
type Client struct {
	baseURL     string
	token       string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	endpoints   Endpoints
	http        *http.Client
	log         *zap.SugaredLogger
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*Client, error) {
	pc := cfg.Panel
	eps, err := BuildEndpoints(pc.EndpointOverrides, pc.APIMode)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:     strings.TrimRight(pc.BaseURL, "/"),
		token:       pc.Token,
		timeout:     pc.Timeout,
		maxAttempts: pc.MaxAttempts,
		backoff:     pc.RetryBackoff,
		endpoints:   eps,
		http:        &http.Client{},
		log:         log,
		sleep:       sleepCtx,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 1
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EnsureUser creates the panel account for username, or returns the existing one.
func (c *Client) EnsureUser(ctx context.Context, username string) (*RemoteUser, error) {
	var out RemoteUser
	if err := c.call(ctx, http.MethodPost, EndpointCreateUser, nil, map[string]any{"username": username}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("panel create_user: empty id for %s", username)
	}
	return &out, nil
}

// ApplyAccess binds the access profile and sets the absolute expiry.
func (c *Client) ApplyAccess(ctx context.Context, remoteUserID, profileID string, expiresAt time.Time) error {
	body := map[string]any{
		"profile_uuid": profileID,
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	}
	return c.call(ctx, http.MethodPatch, EndpointUpdateUser, map[string]string{"user_id": remoteUserID}, body, nil)
}

func (c *Client) ExtendExpiration(ctx context.Context, remoteUserID string, days int) error {
	return c.call(ctx, http.MethodPost, EndpointExtendUser, map[string]string{"user_id": remoteUserID}, map[string]any{"days": days}, nil)
}

func (c *Client) GetDeliveryLink(ctx context.Context, remoteUserID string) (*DeliveryLink, error) {
	var out DeliveryLink
	if err := c.call(ctx, http.MethodGet, EndpointGetDeliveryLink, map[string]string{"user_id": remoteUserID}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out []Server
	if err := c.call(ctx, http.MethodGet, EndpointSyncServers, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]RemoteUser, error) {
	var out []RemoteUser
	if err := c.call(ctx, http.MethodGet, EndpointSyncUsers, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, params map[string]string, body, out any) error {
	path, err := c.endpoints.Path(endpoint, params)
	if err != nil {
		return joberr.Permanent(err)
	}
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return joberr.Permanent(fmt.Errorf("marshal %s body: %w", endpoint, err))
		}
	}

	log := logctx.FromCtx(ctx, c.log)
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.do(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return joberr.Permanent(lastErr)
		}
		if ctx.Err() != nil || attempt == c.maxAttempts {
			break
		}
		log.Warnw("panel_request_retry", "endpoint", endpoint, "attempt", attempt, "err", lastErr)
		if err := c.sleep(ctx, c.backoff*time.Duration(attempt)); err != nil {
			return fmt.Errorf("panel %s: %w", endpoint, err)
		}
	}
	return fmt.Errorf("panel %s failed after retries: %w", endpoint, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("panel %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read panel response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: truncateBody(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode panel %s %s: %w", method, path, err)
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
