package pbx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Credentials hands out bearer tokens for PBX requests.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// TokenSource obtains client-credentials tokens and caches them until
// SafetyBuffer before they expire.
type TokenSource struct {
	url          string
	clientID     string
	clientSecret string
	safetyBuffer time.Duration
	http         *http.Client
	clock        Clock

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// TokenOptions configures a TokenSource.
type TokenOptions struct {
	URL          string
	ClientID     string
	ClientSecret string
	SafetyBuffer time.Duration
	HTTPClient   *http.Client
	Clock        Clock
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewTokenSource creates a TokenSource.
func NewTokenSource(opts TokenOptions) *TokenSource {
	ts := &TokenSource{
		url:          opts.URL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		safetyBuffer: opts.SafetyBuffer,
		http:         opts.HTTPClient,
		clock:        opts.Clock,
	}
	if ts.http == nil {
		ts.http = &http.Client{Timeout: 10 * time.Second}
	}
	if ts.clock == nil {
		ts.clock = time.Now
	}
	return ts
}

// Token returns the cached token, fetching a new one when it is missing or
// within the safety buffer of expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.clock().Add(s.safetyBuffer).Before(s.expiresAt) {
		tok := s.token
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()
	return s.fetch(ctx)
}

// Refresh discards the cached token and fetches a new one.
func (s *TokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return s.fetch(ctx)
}

// fetch coalesces concurrent refreshes into one request.
func (s *TokenSource) fetch(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("token", func() (any, error) {
		tok, expiresIn, err := s.request(ctx)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.token = tok
		s.expiresAt = s.clock().Add(time.Duration(expiresIn) * time.Second)
		s.mu.Unlock()
		log.Debug().Int64("expiresIn", expiresIn).Msg("PBX token refreshed")
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) request(ctx context.Context) (string, int64, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned no access_token")
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}
