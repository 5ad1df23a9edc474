// Package usgs talks to the upstream water-data APIs: the legacy
// WaterServices IV endpoint and the modern OGC API–Features endpoint, plus
// the blended policy that races and ranks them.
package usgs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrorKind classifies a fetch failure.
type ErrorKind int

const (
	// ErrTransport covers DNS, TCP, TLS, timeout, and non-2xx responses.
	ErrTransport ErrorKind = iota
	// ErrSchema covers 2xx responses whose payload cannot be parsed.
	ErrSchema
)

func (k ErrorKind) String() string {
	if k == ErrSchema {
		return "schema"
	}
	return "transport"
}

// FetchError is a typed upstream failure. Adapters never panic or bubble raw
// errors; every failure surfaces as one of these alongside an empty result.
type FetchError struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("usgs %s: %s error: %v", e.Backend, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AsFetchError unwraps err into a FetchError when possible.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Client is the blocking HTTP request primitive shared by both adapters.
type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
}

// NewClient builds a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// GetJSON issues a GET and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, backend, rawURL string, params url.Values, out any) error {
	body, err := c.get(ctx, backend, rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Kind: ErrSchema, Backend: backend, Err: err}
	}
	return nil
}

// GetText issues a GET and returns the raw response body.
func (c *Client) GetText(ctx context.Context, backend, rawURL string, params url.Values) (string, error) {
	body, err := c.get(ctx, backend, rawURL, params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, backend, rawURL string, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Backend: backend, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Backend: backend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			Kind:    ErrTransport,
			Backend: backend,
			Err:     fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Backend: backend, Err: err}
	}
	return body, nil
}

// PostJSON issues a fire-and-forget POST with a JSON payload.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
