// Package auth fetches signed service tokens from the provider backend
// and caches them per role and subject until shortly before expiry.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrMissingBaseURL is returned when a provider base URL was not configured.
var ErrMissingBaseURL = errors.New("auth: provider base URL not set")

// ErrMissingSubject is returned when the trip or vehicle ID is empty.
var ErrMissingSubject = errors.New("auth: empty token subject")

// ErrMissingToken is returned when the backend response omits the token
// or its expiration timestamp.
var ErrMissingToken = errors.New("auth: response missing jwt or expiration")

// Role selects which token endpoint is called.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleDriver   Role = "driver"
)

// Token is a signed credential together with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past (or within skew of) its expiry.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(t.ExpiresAt)
}

// Provider fetches and caches tokens from the backend token endpoints.
// A cached token is reused until it is within ExpirySkew of expiring.
type Provider struct {
	BaseURL    string
	HTTPClient *http.Client

	// ExpirySkew is how long before expiry a cached token is refreshed.
	ExpirySkew time.Duration

	now func() time.Time

	mu    sync.Mutex
	cache map[string]Token
}

// NewProvider returns a Provider talking to the given backend base URL.
func NewProvider(baseURL string) *Provider {
	return &Provider{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		ExpirySkew: 30 * time.Second,
		now:        time.Now,
		cache:      make(map[string]Token),
	}
}

// ConsumerToken returns a token scoped to the given trip.
func (p *Provider) ConsumerToken(ctx context.Context, tripID string) (Token, error) {
	return p.token(ctx, RoleConsumer, tripID)
}

// DriverToken returns a token scoped to the given vehicle.
func (p *Provider) DriverToken(ctx context.Context, vehicleID string) (Token, error) {
	return p.token(ctx, RoleDriver, vehicleID)
}

func (p *Provider) token(ctx context.Context, role Role, subject string) (Token, error) {
	if p.BaseURL == "" {
		return Token{}, ErrMissingBaseURL
	}
	if subject == "" {
		return Token{}, ErrMissingSubject
	}

	key := string(role) + "/" + subject

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok && !cached.Expired(p.now(), p.ExpirySkew) {
		return cached, nil
	}

	tok, err := p.fetch(ctx, role, subject)
	if err != nil {
		return Token{}, err
	}

	p.mu.Lock()
	p.cache[key] = tok
	p.mu.Unlock()
	return tok, nil
}

type tokenResponse struct {
	JWT                 *string `json:"jwt"`
	ExpirationTimestamp *int64  `json:"expirationTimestamp"`
}

func (p *Provider) fetch(ctx context.Context, role Role, subject string) (Token, error) {
	u := fmt.Sprintf("%s/token/%s/%s", p.BaseURL, role, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Token{}, fmt.Errorf("auth: build request: %w", err)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("auth: fetch %s token: %w", role, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("auth: read %s token response: %w", role, err)
	}

	var decoded tokenResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Token{}, fmt.Errorf("auth: decode %s token response: %w", role, err)
	}
	if decoded.JWT == nil || decoded.ExpirationTimestamp == nil {
		return Token{}, ErrMissingToken
	}

	return Token{
		Value:     *decoded.JWT,
		ExpiresAt: time.UnixMilli(*decoded.ExpirationTimestamp),
	}, nil
}
