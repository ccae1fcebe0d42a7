package pbx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnauthorized is returned when the PBX rejects a request even after
	// a forced credential refresh.
	ErrUnauthorized = errors.New("pbx: unauthorized")
	// ErrNotFound is returned when the entity no longer exists.
	ErrNotFound = errors.New("pbx: entity not found")
)

// DetailClient looks up entity details over the PBX REST API.
type DetailClient struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// NewDetailClient creates a DetailClient. timeout bounds every request.
func NewDetailClient(baseURL string, creds Credentials, timeout time.Duration) *DetailClient {
	return &DetailClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the detail for entity. A 401/403 forces one credential
// refresh and one retry; a second rejection returns ErrUnauthorized.
func (c *DetailClient) Lookup(ctx context.Context, entity string) (*Detail, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}

	detail, status, err := c.get(ctx, entity, token)
	if !isAuthFailure(status) {
		return detail, err
	}

	log.Warn().Str("entity", entity).Int("status", status).Msg("PBX rejected token, refreshing")
	token, err = c.creds.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	detail, status, err = c.get(ctx, entity, token)
	if isAuthFailure(status) {
		return nil, ErrUnauthorized
	}
	return detail, err
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (c *DetailClient) get(ctx context.Context, entity, token string) (*Detail, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+entity, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building detail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("requesting detail: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case isAuthFailure(resp.StatusCode):
		return nil, resp.StatusCode, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, resp.StatusCode, fmt.Errorf("detail endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading detail: %w", err)
	}
	var d Detail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding detail: %w", err)
	}
	return &d, resp.StatusCode, nil
}
