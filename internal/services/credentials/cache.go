// Package credentials resolves and caches short-lived OAuth access
// tokens per credential scope, refreshing them before expiry. The token
// exchange runs over a mutually authenticated TLS channel when client
// identity material is configured.
package credentials

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"

	"github.com/defybank/rails/internal/domain"
)

const (
	// safetyMargin is subtracted from a token's remaining validity before
	// a cache hit is trusted.
	safetyMargin = 10 * time.Second

	minTokenTTL    = 60 * time.Second
	defaultTTL     = 15 * time.Minute
	defaultTimeout = 20 * time.Second
)

// Config is the credential boundary: resolved once at process start and
// re-validated on every token refresh.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// PEM material. All three must be set together.
	CertPath string
	KeyPath  string
	CAPath   string

	// PKCS#12 bundle, used instead of the PEM trio when set.
	PFXPath       string
	PFXPassphrase string

	// Scopes maps scope aliases ("cob", "pix", "pay") to OAuth scope strings.
	Scopes       map[string]string
	DefaultScope string

	Timeout time.Duration
}

type entry struct {
	token string
	exp   time.Time
}

// Cache caches tokens per scope, process-wide. Concurrent requests for
// one expired scope may each refresh; all eventually observe a valid
// cached token.
type Cache struct {
	cfg Config

	mu     sync.RWMutex
	tokens map[string]entry

	now       func() time.Time
	transport func(*tls.Config) http.RoundTripper
}

// Option configures the Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTransport overrides transport construction (plain HTTP in tests).
func WithTransport(fn func(*tls.Config) http.RoundTripper) Option {
	return func(c *Cache) { c.transport = fn }
}

// New creates a cache over the given credential configuration.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Cache{
		cfg:    cfg,
		tokens: make(map[string]entry),
		now:    time.Now,
		transport: func(t *tls.Config) http.RoundTripper {
			return &http.Transport{TLSClientConfig: t}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a bearer token for the scope, from cache when its
// remaining validity exceeds the safety margin, otherwise via a
// client-credentials exchange. Configuration failures are never cached.
func (c *Cache) Token(ctx context.Context, scopeName string) (string, error) {
	scope := c.resolveScope(scopeName)

	c.mu.RLock()
	hit, ok := c.tokens[scope]
	c.mu.RUnlock()
	if ok && hit.exp.Add(-safetyMargin).After(c.now()) {
		return hit.token, nil
	}

	tok, err := c.fetch(ctx, scope)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.tokens[scope] = tok
	c.mu.Unlock()

	return tok.token, nil
}

// Invalidate drops the cached token for a scope.
func (c *Cache) Invalidate(scopeName string) {
	scope := c.resolveScope(scopeName)
	c.mu.Lock()
	delete(c.tokens, scope)
	c.mu.Unlock()
}

func (c *Cache) resolveScope(name string) string {
	if s, ok := c.cfg.Scopes[name]; ok && s != "" {
		return s
	}
	if name != "" {
		return name
	}
	return c.cfg.DefaultScope
}

func (c *Cache) fetch(ctx context.Context, scope string) (entry, error) {
	if c.cfg.TokenURL == "" {
		return entry{}, errors.Wrap(domain.ErrCredentialConfig, "token URL is not configured")
	}
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return entry{}, errors.Wrap(domain.ErrCredentialConfig, "client id/secret are not configured")
	}

	tlsCfg, err := c.buildTLS()
	if err != nil {
		return entry{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", scope)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return entry{}, errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	client := &http.Client{Transport: c.transport(tlsCfg), Timeout: c.cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return entry{}, errors.Wrap(err, "token exchange")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return entry{}, errors.Wrap(err, "read token response")
	}
	if resp.StatusCode >= 400 {
		preview := string(raw)
		if len(preview) > 300 {
			preview = preview[:300]
		}
		return entry{}, errors.Errorf("token exchange failed (%d): %s", resp.StatusCode, preview)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return entry{}, errors.Wrap(err, "decode token response")
	}
	if body.AccessToken == "" {
		return entry{}, errors.New("token response carried no access_token")
	}

	ttl := defaultTTL
	if body.ExpiresIn > 0 {
		ttl = time.Duration(body.ExpiresIn) * time.Second
	}
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	return entry{token: body.AccessToken, exp: c.now().Add(ttl)}, nil
}

// buildTLS assembles the client identity. Material is re-read on every
// refresh so rotated certificates are picked up without a restart.
func (c *Cache) buildTLS() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.cfg.PFXPath != "" {
		cert, err := loadPFX(c.cfg.PFXPath, c.cfg.PFXPassphrase)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
		return cfg, nil
	}

	if c.cfg.CertPath == "" && c.cfg.KeyPath == "" && c.cfg.CAPath == "" {
		// mTLS not configured; plain TLS channel.
		return cfg, nil
	}
	if c.cfg.CertPath == "" || c.cfg.KeyPath == "" {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "client cert and key must both be configured")
	}

	cert, err := tls.LoadX509KeyPair(c.cfg.CertPath, c.cfg.KeyPath)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrCredentialConfig, "load client keypair: %s", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if c.cfg.CAPath != "" {
		raw, err := os.ReadFile(c.cfg.CAPath)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrCredentialConfig, "read CA bundle: %s", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(raw) {
			return nil, errors.Wrapf(domain.ErrCredentialConfig, "CA bundle %s carries no certificates", c.cfg.CAPath)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func loadPFX(path, passphrase string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(domain.ErrCredentialConfig, "read PKCS#12 bundle: %s", err)
	}
	blocks, err := pkcs12.ToPEM(raw, passphrase)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(domain.ErrCredentialConfig, "decode PKCS#12 bundle: %s", err)
	}
	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}
	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(domain.ErrCredentialConfig, "assemble keypair from PKCS#12 bundle: %s", err)
	}
	return cert, nil
}
