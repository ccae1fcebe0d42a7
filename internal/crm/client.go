// Package crm talks to the two upstream customer-data providers: the
// primary CRM/DMS and the parts/service system.
package crm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ErrNotFound marks a 404 from an upstream: no data, not a failure.
var ErrNotFound = errors.New("crm: not found")

// httpClient is the shared request plumbing of both providers.
type httpClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

func newHTTPClient(baseURL, apiKey string, timeout time.Duration) httpClient {
	return httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// getJSON issues a bounded GET and decodes the body into out.
func (c httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Client is the primary CRM/DMS provider.
type Client struct {
	httpClient
}

// NewClient creates a CRM client. timeout bounds every request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{newHTTPClient(baseURL, apiKey, timeout)}
}

// ContactsByPhone returns the contacts matching phone. No match is an
// empty slice, not an error.
func (c *Client) ContactsByPhone(ctx context.Context, phone string) ([]Contact, error) {
	var contacts []Contact
	err := c.getJSON(ctx, "/contacts", url.Values{"phone": {phone}}, &contacts)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return contacts, err
}

// Leads returns the leads attached to a contact.
func (c *Client) Leads(ctx context.Context, contactID string) ([]Lead, error) {
	var leads []Lead
	err := c.getJSON(ctx, "/contacts/"+url.PathEscape(contactID)+"/leads", nil, &leads)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return leads, err
}

// SalesTeam returns the representatives assigned to a contact.
func (c *Client) SalesTeam(ctx context.Context, contactID string) (*SalesTeam, error) {
	var team SalesTeam
	if err := c.getJSON(ctx, "/contacts/"+url.PathEscape(contactID)+"/sales-team", nil, &team); err != nil {
		return nil, err
	}
	if team.ContactID == "" {
		team.ContactID = contactID
	}
	return &team, nil
}

// VehiclesOfInterest returns the vehicles a lead is interested in.
func (c *Client) VehiclesOfInterest(ctx context.Context, leadID string) ([]Vehicle, error) {
	return c.vehicles(ctx, "/leads/"+url.PathEscape(leadID)+"/vehicles")
}

// TradeVehicles returns the vehicles offered in trade on a lead.
func (c *Client) TradeVehicles(ctx context.Context, leadID string) ([]Vehicle, error) {
	return c.vehicles(ctx, "/leads/"+url.PathEscape(leadID)+"/trade-vehicles")
}

func (c *Client) vehicles(ctx context.Context, path string) ([]Vehicle, error) {
	var vehicles []Vehicle
	err := c.getJSON(ctx, path, nil, &vehicles)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return vehicles, err
}

// LeadSource returns where a lead came from.
func (c *Client) LeadSource(ctx context.Context, leadID string) (*LeadSource, error) {
	var src LeadSource
	if err := c.getJSON(ctx, "/leads/"+url.PathEscape(leadID)+"/source", nil, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// PartsClient is the parts/service provider.
type PartsClient struct {
	httpClient
}

// NewPartsClient creates a parts/service client. timeout bounds every request.
func NewPartsClient(baseURL, apiKey string, timeout time.Duration) *PartsClient {
	return &PartsClient{newHTTPClient(baseURL, apiKey, timeout)}
}

// ServiceProfile returns the service record for phone, or ErrNotFound.
func (c *PartsClient) ServiceProfile(ctx context.Context, phone string) (*ServiceProfile, error) {
	var p ServiceProfile
	if err := c.getJSON(ctx, "/customers/lookup", url.Values{"phone": {phone}}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
