// Package client talks to a running tabmon daemon over its loopback bridge.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/tab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
)

// RemoteError is an operation failure reported by the daemon.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// Options tunes retries and timeouts.
type Options struct {
	Retries    uint64
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return Options{
		Retries:    2,
		RetryDelay: 200 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

// Client sends browser events and UI messages to the daemon.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Options
	logger  *zap.Logger
}

// New creates a client for the daemon listening on addr (host:port).
func New(addr string, opts Options, logger *zap.Logger) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		logger:  logger,
	}
}

// Ping returns the daemon health report.
func (c *Client) Ping(ctx context.Context) (*daemon.Health, error) {
	var health daemon.Health
	raw, err := c.do(ctx, http.MethodGet, daemon.PathHealth, nil, nil, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &health, nil
}

// SendEvent forwards one browser lifecycle event.
func (c *Client) SendEvent(ctx context.Context, ev domain.BrowserEvent) error {
	_, err := c.do(ctx, http.MethodPost, daemon.PathEvents, ev, nil, true)
	return err
}

// Send runs one UI request and returns the raw JSON result. A result of the
// form {"error": "..."} is returned as a *RemoteError.
func (c *Client) Send(ctx context.Context, req messaging.Request, tabID domain.TabID) (json.RawMessage, error) {
	headers := map[string]string{}
	if tabID > 0 {
		headers[daemon.HeaderTabID] = strconv.FormatInt(int64(tabID), 10)
	}
	return c.do(ctx, http.MethodPost, daemon.PathMessages, req, headers, retryable(req.Type))
}

// Call runs req and decodes the result into out.
func (c *Client) Call(ctx context.Context, req messaging.Request, out any) error {
	raw, err := c.Send(ctx, req, domain.TabIDNone)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", req.Type, err)
	}
	return nil
}

// retryable reports whether resending msgType after an ambiguous failure is
// harmless. toggle-tracking flips state, so a duplicate would undo it.
func retryable(msgType string) bool {
	return msgType != messaging.TypeToggleTracking
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, retry bool) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	requestID := uuid.NewString()

	var result json.RawMessage
	operation := func() error {
		raw, err := c.roundTrip(ctx, method, path, payload, headers, requestID)
		if err != nil {
			return err
		}
		result = raw
		return nil
	}

	retries := c.opts.Retries
	if !retry {
		retries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), retries),
		ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying daemon request",
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return result, nil
}

// roundTrip performs one attempt. Errors that retrying cannot fix are
// wrapped in backoff.Permanent.
func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, headers map[string]string, requestID string) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(daemon.HeaderRequestID, requestID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if remote := asErrorResult(resp.StatusCode, raw); remote != nil {
		if resp.StatusCode >= 500 {
			return nil, remote
		}
		return nil, backoff.Permanent(remote)
	}
	if resp.StatusCode >= 500 {
		return nil, &RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(&RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
	}
	return raw, nil
}

// asErrorResult extracts an {"error": "..."} body.
func asErrorResult(status int, raw []byte) *RemoteError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var res struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &res); err != nil || res.Error == nil {
		return nil
	}
	return &RemoteError{Status: status, Message: *res.Error}
}

// IsRemote reports whether err came from the daemon rather than the transport.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
