// Package mediamtx is a thin typed client over the media server's v3 REST
// API. It covers exactly the calls the supervisor needs: global status,
// path listing, add/edit/delete of path configs, and global config patches.
package mediamtx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnreachable wraps transport-level failures (dial, timeout, reset) so
// callers can distinguish "the backend is down" from API-level rejections.
var ErrUnreachable = errors.New("media server unreachable")

// ErrPathNotFound marks delete/get calls against a path the server does not
// know about.
var ErrPathNotFound = errors.New("path not found")

// APIError is a non-2xx response from the media server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("media server returned %d: %s", e.StatusCode, e.Body)
}

// PathInfo is one entry of the runtime path list.
type PathInfo struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Source any    `json:"source"`
}

type pathList struct {
	Items []PathInfo `json:"items"`
}

// Client issues requests against one media server API endpoint. The
// underlying http.Client is shared and safe for concurrent use; Client
// performs no per-call mutation of it.
type Client struct {
	log  *zap.Logger
	base string
	http *http.Client
}

// NewClient builds a client for the API at host:apiPort with a per-request
// timeout. The timeout bounds every call; no request hangs indefinitely.
func NewClient(log *zap.Logger, host string, apiPort int, timeout time.Duration) *Client {
	return &Client{
		log:  log.Named("mediamtx"),
		base: fmt.Sprintf("http://%s:%d", host, apiPort),
		http: &http.Client{Timeout: timeout},
	}
}

// Close releases idle connections held by the shared transport.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// GlobalConfig fetches the server's global configuration. It doubles as the
// health probe: a 2xx response means the control API is alive.
func (c *Client) GlobalConfig(ctx context.Context) (map[string]any, error) {
	var conf map[string]any
	if err := c.do(ctx, http.MethodGet, "/v3/config/global/get", nil, &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// PatchGlobalConfig applies a partial update to the server's global
// configuration.
func (c *Client) PatchGlobalConfig(ctx context.Context, conf map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/v3/config/global/patch", conf, nil)
}

// PathList returns the server's runtime path list.
func (c *Client) PathList(ctx context.Context) ([]PathInfo, error) {
	var list pathList
	if err := c.do(ctx, http.MethodGet, "/v3/paths/list", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// AddOrEditPath creates the named path config, or edits it in place when it
// already exists. The operation is idempotent by design: repeating it with
// the same conf succeeds.
func (c *Client) AddOrEditPath(ctx context.Context, name string, conf map[string]any) error {
	err := c.do(ctx, http.MethodPost, "/v3/config/paths/add/"+name, conf, nil)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && isAlreadyExists(apiErr) {
		return c.PatchPath(ctx, name, conf)
	}
	return err
}

// PatchPath applies a partial update to the named path config.
func (c *Client) PatchPath(ctx context.Context, name string, conf map[string]any) error {
	err := c.do(ctx, http.MethodPatch, "/v3/config/paths/patch/"+name, conf, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isNotFound(apiErr) {
			return fmt.Errorf("%s: %w", name, ErrPathNotFound)
		}
	}
	return err
}

// DeletePath removes the named path config. A missing path maps to
// ErrPathNotFound rather than a generic API error.
func (c *Client) DeletePath(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/v3/config/paths/delete/"+name, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isNotFound(apiErr) {
			return fmt.Errorf("%s: %w", name, ErrPathNotFound)
		}
	}
	return err
}

// do performs one API round trip. Every request carries a fresh correlation
// ID for cross-component log tracing. Transport failures wrap
// ErrUnreachable; non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	correlationID := uuid.New().String()
	req.Header.Set("X-Correlation-ID", correlationID)

	log := c.log.With(
		zap.String("method", method),
		zap.String("path", path),
		zap.String("correlation_id", correlationID),
	)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("request failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	log.Debug("request done",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func isNotFound(e *APIError) bool {
	return e.StatusCode == http.StatusNotFound ||
		(e.StatusCode == http.StatusBadRequest && strings.Contains(e.Body, "not found"))
}

func isAlreadyExists(e *APIError) bool {
	return e.StatusCode == http.StatusConflict ||
		(e.StatusCode == http.StatusBadRequest && strings.Contains(e.Body, "already exists"))
}
