package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrNoRefresh is returned by token sources that cannot refresh.
var ErrNoRefresh = errors.New("upstream: token source cannot refresh")

// TokenSource hands out the bearer token for upstream calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a fixed token that never refreshes.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Refresh always fails with ErrNoRefresh.
func (t StaticToken) Refresh(context.Context) (string, error) { return "", ErrNoRefresh }

// RefreshingToken keeps a token and renews it by POSTing the current token
// to a refresh endpoint that answers {"token": "..."}.
type RefreshingToken struct {
	url  string
	http HTTPClient

	mu    sync.Mutex
	token string
}

// NewRefreshingToken creates a token source starting from initial.
func NewRefreshingToken(refreshURL, initial string, client HTTPClient) *RefreshingToken {
	if client == nil {
		client = http.DefaultClient
	}
	return &RefreshingToken{url: refreshURL, http: client, token: initial}
}

// Token returns the current token.
func (t *RefreshingToken) Token(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token, nil
}

// Refresh obtains a new token and stores it.
func (t *RefreshingToken) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	body, err := json.Marshal(map[string]string{"token": t.token})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh request: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("refresh response carries no token")
	}
	t.token = out.Token
	return t.token, nil
}
