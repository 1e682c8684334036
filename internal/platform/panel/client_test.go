package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &config.Config{Panel: config.PanelConfig{
		BaseURL:      srv.URL + "/",
		Token:        "secret",
		Timeout:      2 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
		APIMode:      config.PanelAPIModeStrict,
	}}
	c, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)

	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestClientEnsureUser(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/users", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "42", body["username"])
		_, _ = w.Write([]byte(`{"id":"u-1","username":"42"}`))
	})

	u, err := c.EnsureUser(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "u-1", u.ID)
}

func TestClientApplyAccess(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/users/u-1", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "profile-1", body["profile_uuid"])
		require.Equal(t, "2026-03-01T12:00:00Z", body["expires_at"])
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.ApplyAccess(context.Background(), "u-1", "profile-1", exp))
}

func TestClientDeliveryLinkFallsBackToLink(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/u-1/delivery", r.URL.Path)
		_, _ = w.Write([]byte(`{"link":"vless://abc"}`))
	})

	link, err := c.GetDeliveryLink(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "vless://abc", link.String())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"s1","name":"nl1"}]`))
	})

	servers, err := c.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.ExtendExpiration(context.Background(), "u-1", 30)
	require.Error(t, err)
	require.False(t, joberr.IsPermanent(err))
	require.EqualValues(t, 3, calls.Load())
}

func TestClientClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"user not found"}`))
	})

	err := c.ExtendExpiration(context.Background(), "u-1", 30)
	require.Error(t, err)
	require.True(t, joberr.IsPermanent(err))
	require.EqualValues(t, 1, calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)
}
