package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrAPIUnavailable is returned when no API bind address is configured.
	ErrAPIUnavailable = errors.New("broker API unavailable")
	// ErrUnauthorized is returned for a 401 response.
	ErrUnauthorized = errors.New("broker API rejected the token")
)

// Client talks to the broker HTTP API.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	fields Fields
}

// NewClient builds a client for the broker bound at bind (host:port or URL).
func NewClient(bind, token string, fields Fields) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		// Lookups block until the broker deadline; callers bound them with ctx.
		http:   &http.Client{},
		token:  strings.TrimSpace(token),
		fields: fields,
	}, nil
}

// Lookup asks the broker for key and waits for its outcome.
func (c *Client) Lookup(ctx context.Context, key string) (LookupResult, error) {
	if strings.TrimSpace(key) == "" {
		return LookupResult{}, errors.New("lookup key is empty")
	}
	var body map[string]string
	ref := &url.URL{Path: "/api/" + key, RawPath: "/api/" + url.PathEscape(key)}
	resp, err := c.get(ctx, ref, &body)
	if err != nil {
		return LookupResult{}, err
	}
	res := ParseLookupBody(c.fields, body)
	res.Cached = resp.Header.Get(HeaderCache) == "hit"
	return res, nil
}

// Status fetches the broker status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var status StatusResponse
	if _, err := c.get(ctx, &url.URL{Path: "/api/status"}, &status); err != nil {
		return StatusResponse{}, err
	}
	return status, nil
}

func (c *Client) get(ctx context.Context, ref *url.URL, out any) (*http.Response, error) {
	if c == nil {
		return nil, ErrAPIUnavailable
	}
	path := ref.Path
	endpoint := c.base.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("broker api %s returned status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("broker api %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp, nil
}
