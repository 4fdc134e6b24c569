// Package transport carries sync requests to a central server over HTTP.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/snappy"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
)

// EncodingSnappy is the Content-Encoding of snappy-compressed bodies.
const EncodingSnappy = "snappy"

// maxResponseSize bounds how much of a reply is read.
const maxResponseSize = 64 << 20

var (
	// ErrNotConfigured means no server URL was given.
	ErrNotConfigured = errors.New("server URL not configured")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Options configures an HTTP transport.
type Options struct {
	ServerURL string
	StoreID   string
	APIKey    string
	Timeout   time.Duration
	Compress  bool
	Client    *http.Client
}

// HTTP posts form-encoded sync requests to
// {server}/api/v1/stores/{store_id}/sync.
type HTTP struct {
	serverURL string
	storeID   string
	apiKey    string
	compress  bool
	client    *http.Client
}

// NewHTTP returns an HTTP transport.
func NewHTTP(opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	storeID := opts.StoreID
	if storeID == "" {
		storeID = "default"
	}
	return &HTTP{
		serverURL: strings.TrimRight(opts.ServerURL, "/"),
		storeID:   storeID,
		apiKey:    opts.APIKey,
		compress:  opts.Compress,
		client:    client,
	}
}

// SyncURL returns the endpoint sync requests go to.
func (t *HTTP) SyncURL() string {
	// nested ids such as "org/team" travel as one escaped segment
	return t.serverURL + "/api/v1/stores/" + url.PathEscape(t.storeID) + "/sync"
}

// Send transmits one sync request and returns the raw response body.
func (t *HTTP) Send(ctx context.Context, req *ssync.Request) ([]byte, error) {
	if t.serverURL == "" {
		return nil, ErrNotConfigured
	}
	form, err := ssync.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	body := []byte(form.Encode())
	if t.compress {
		body = snappy.Encode(nil, body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.SyncURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if t.compress {
		httpReq.Header.Set("Content-Encoding", EncodingSnappy)
	}
	t.authorize(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send sync request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read sync response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if resp.Header.Get("Content-Encoding") == EncodingSnappy {
		if data, err = snappy.Decode(nil, data); err != nil {
			return nil, fmt.Errorf("decode sync response: %w", err)
		}
	}
	return data, nil
}

// Probe checks server liveness via the health endpoint.
func (t *HTTP) Probe(ctx context.Context) error {
	if t.serverURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.serverURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTP) authorize(req *http.Request) {
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
}

// ParseServerURL validates a server base URL.
func ParseServerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("server URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
