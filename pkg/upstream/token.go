package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// expiryLeeway refreshes tokens slightly before the server-reported expiry
// so in-flight requests never carry a token about to lapse.
const expiryLeeway = 30 * time.Second

// TokenSource acquires and caches OAuth2 client-credentials bearer tokens.
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// NewTokenSource creates a token source for the given token endpoint.
func NewTokenSource(tokenURL, clientID, clientSecret string, client *http.Client) *TokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
		now:          time.Now,
	}
}

// Token returns a valid bearer token, fetching a fresh one when the cached
// token is missing or near expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expires.Add(-expiryLeeway)) {
		return ts.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: unexpected status %d from %s", resp.StatusCode, ts.tokenURL)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response from %s carried no access_token", ts.tokenURL)
	}

	ts.token = payload.AccessToken
	ts.expires = ts.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return ts.token, nil
}

// Invalidate drops the cached token, forcing the next call to re-fetch.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
}
