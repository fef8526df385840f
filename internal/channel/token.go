package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const defaultExpiresIn = 3600

// TokenCache handles the client credentials flow for the channel API. It
// caches the token until its lifetime minus the buffer has elapsed, and
// collapses concurrent refreshes into one request.
type TokenCache struct {
	mu       sync.RWMutex
	tokenURL string
	clientID string
	secret   string
	buffer   time.Duration
	timeout  time.Duration
	client   HTTPClient
	clock    clockwork.Clock
	group    singleflight.Group
	log      zerolog.Logger

	accessToken string
	validUntil  time.Time
}

// NewTokenCache creates a TokenCache for the token endpoint in cfg.
func NewTokenCache(cfg Config, client HTTPClient, clock clockwork.Clock, log zerolog.Logger) *TokenCache {
	return &TokenCache{
		tokenURL: cfg.BaseURL + cfg.TokenPath,
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		buffer:   cfg.TokenBuffer,
		timeout:  cfg.Timeout,
		client:   client,
		clock:    clock,
		log:      log.With().Str("component", "channel_token").Logger(),
	}
}

// GetToken returns a valid access token, refreshing if it is past its
// usable lifetime.
func (tc *TokenCache) GetToken(ctx context.Context) (string, error) {
	if token, ok := tc.cached(); ok {
		return token, nil
	}

	v, err, _ := tc.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we waited.
		if token, ok := tc.cached(); ok {
			return token, nil
		}
		// The refresh outlives a single caller's cancellation since other
		// callers share its result.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tc.timeout)
		defer cancel()
		return tc.refresh(refreshCtx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate clears the cached token, forcing a refresh on next call.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.accessToken = ""
	tc.validUntil = time.Time{}
}

func (tc *TokenCache) cached() (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.accessToken != "" && tc.clock.Now().Before(tc.validUntil) {
		return tc.accessToken, true
	}
	return "", false
}

func (tc *TokenCache) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", tc.clientID)
	form.Set("client_secret", tc.secret)

	resp, err := tc.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    tc.tokenURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("token request: %w: %w", ErrTransient, err)
	}

	if resp.StatusCode != 200 {
		TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("token request: %w", ClassifyHTTPStatus(resp.StatusCode, string(resp.Body)))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("parse token response: %w: %w", ErrTransient, err)
	}
	if tokenResp.AccessToken == "" {
		TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("empty access token in response: %w", ErrTransient)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	lifetime := time.Duration(expiresIn) * time.Second
	buffer := tc.buffer
	if buffer >= lifetime {
		// A buffer covering the whole lifetime would never cache.
		buffer = lifetime / 2
		tc.log.Warn().
			Dur("token_buffer", tc.buffer).
			Dur("expires_in", lifetime).
			Dur("effective_buffer", buffer).
			Msg("token buffer exceeds token lifetime, clamping")
	}

	tc.mu.Lock()
	tc.accessToken = tokenResp.AccessToken
	tc.validUntil = tc.clock.Now().Add(lifetime - buffer)
	tc.mu.Unlock()

	TokenRefreshesTotal.WithLabelValues("ok").Inc()
	return tokenResp.AccessToken, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
