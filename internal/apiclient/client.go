package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/metrics"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned when the API answers 401. The session the
// request ran for has already been cleared.
var ErrUnauthorized = errors.New("api: unauthorized")

// Error is any other non-2xx answer.
type Error struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s %s: status %d", e.Method, e.Path, e.Status)
}

// maxErrorBody caps how much of an error body is kept for logs.
const maxErrorBody = 4 << 10

// Client calls the remote REST API on behalf of the session carried by each
// request context.
type Client struct {
	base       *url.URL
	http       *http.Client
	diagHeader string
	diagValue  string
}

// New builds a client for cfg.BaseURL.
func New(cfg config.APIConfig) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base url %q is not absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:       u,
		http:       &http.Client{Timeout: timeout},
		diagHeader: cfg.DiagnosticName,
		diagValue:  cfg.DiagnosticValue,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rdr)
	if err != nil {
		return err
	}

	creds := CredentialsFrom(ctx)
	if tok := creds.AccessToken(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if c.diagHeader != "" {
		req.Header.Set(c.diagHeader, c.diagValue)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Errorf("api %s %s: %v", method, path, err)
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.UpstreamUnauthorized.Inc()
		logger.Warnf("api %s %s: 401, clearing session", method, path)
		creds.Invalidate(ctx)
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &Error{Method: method, Path: path, Status: resp.StatusCode, Body: string(b)}
		metrics.UpstreamErrors.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		logger.Errorf("%v: %s", apiErr, apiErr.Body)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
