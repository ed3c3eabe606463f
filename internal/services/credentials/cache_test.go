package credentials

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defybank/rails/internal/domain"
)

// plainTransport lets the cache talk to httptest servers without TLS.
func plainTransport(*tls.Config) http.RoundTripper {
	return http.DefaultTransport
}

func tokenServer(t *testing.T, exchanges *int32, expiresIn int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm(), "Failed to parse token form")
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"), "Grant type mismatch")

		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "Basic auth must be present")
		assert.Equal(t, "client-id", user, "Client id mismatch")
		assert.Equal(t, "client-secret", pass, "Client secret mismatch")

		n := atomic.AddInt32(exchanges, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d-%s", n, r.FormValue("scope")),
			"expires_in":   expiresIn,
		})
	}))
}

func testConfig(url string) Config {
	return Config{
		TokenURL:     url,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       map[string]string{"cob": "cob.write cob.read", "pay": "pay.write"},
		DefaultScope: "cob.read",
	}
}

func TestToken_CachedWithinValidity(t *testing.T) {
	var exchanges int32
	srv := tokenServer(t, &exchanges, 900)
	defer srv.Close()

	c := New(testConfig(srv.URL), WithTransport(plainTransport))

	first, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "First token fetch failed")

	for i := 0; i < 10; i++ {
		tok, err := c.Token(context.Background(), "cob")
		require.NoError(t, err, "Cached token fetch failed")
		assert.Equal(t, first, tok, "Token must come from cache")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&exchanges), "Exactly one exchange expected")
}

func TestToken_RefreshesAfterExpiry(t *testing.T) {
	var exchanges int32
	srv := tokenServer(t, &exchanges, 900)
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }
	c := New(testConfig(srv.URL), WithTransport(plainTransport), WithClock(func() time.Time { return clock() }))

	first, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "First token fetch failed")

	// jump past expiry minus the safety margin
	now = now.Add(900*time.Second - 5*time.Second)

	second, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "Refresh failed")
	assert.NotEqual(t, first, second, "Expired token must be replaced")
	assert.EqualValues(t, 2, atomic.LoadInt32(&exchanges), "Exactly one refresh expected")
}

func TestToken_ScopesCachedIndependently(t *testing.T) {
	var exchanges int32
	srv := tokenServer(t, &exchanges, 900)
	defer srv.Close()

	c := New(testConfig(srv.URL), WithTransport(plainTransport))

	cob, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "cob token failed")
	pay, err := c.Token(context.Background(), "pay")
	require.NoError(t, err, "pay token failed")

	assert.NotEqual(t, cob, pay, "Scopes must not share tokens")
	assert.EqualValues(t, 2, atomic.LoadInt32(&exchanges), "One exchange per scope expected")

	// unknown alias passes through as a literal scope
	_, err = c.Token(context.Background(), "custom.scope")
	require.NoError(t, err, "Literal scope failed")
	assert.EqualValues(t, 3, atomic.LoadInt32(&exchanges), "Literal scope is its own cache entry")
}

func TestToken_ConfigErrorsNeverCached(t *testing.T) {
	c := New(Config{}, WithTransport(plainTransport))

	for i := 0; i < 2; i++ {
		_, err := c.Token(context.Background(), "cob")
		assert.ErrorIs(t, err, domain.ErrCredentialConfig, "Missing config must surface the sentinel")
	}
}

func TestToken_PartialPEMTrioFails(t *testing.T) {
	cfg := Config{
		TokenURL:     "https://example.invalid/token",
		ClientID:     "id",
		ClientSecret: "secret",
		CertPath:     "/tmp/cert.pem",
	}
	c := New(cfg, WithTransport(plainTransport))

	_, err := c.Token(context.Background(), "cob")
	assert.ErrorIs(t, err, domain.ErrCredentialConfig, "Partial mTLS material must fail fast")
}

func TestInvalidate(t *testing.T) {
	var exchanges int32
	srv := tokenServer(t, &exchanges, 900)
	defer srv.Close()

	c := New(testConfig(srv.URL), WithTransport(plainTransport))

	_, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "First token fetch failed")

	c.Invalidate("cob")

	_, err = c.Token(context.Background(), "cob")
	require.NoError(t, err, "Post-invalidate fetch failed")
	assert.EqualValues(t, 2, atomic.LoadInt32(&exchanges), "Invalidate must force a refresh")
}

func TestToken_ShortExpiryClampedToMinimum(t *testing.T) {
	var exchanges int32
	srv := tokenServer(t, &exchanges, 5)
	defer srv.Close()

	now := time.Now()
	clock := func() time.Time { return now }
	c := New(testConfig(srv.URL), WithTransport(plainTransport), WithClock(func() time.Time { return clock() }))

	first, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "First token fetch failed")

	// 30s later: a raw 5s expiry would be long gone, the clamped 60s is not
	now = now.Add(30 * time.Second)
	tok, err := c.Token(context.Background(), "cob")
	require.NoError(t, err, "Cached token fetch failed")
	assert.Equal(t, first, tok, "Clamped TTL must keep the token cached")
	assert.EqualValues(t, 1, atomic.LoadInt32(&exchanges), "No refresh expected within the clamped TTL")
}
