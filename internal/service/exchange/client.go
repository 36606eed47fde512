package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds the wait for a webhook reply.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// Request is the JSON body posted to the webhook.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Client posts exchanges to a fixed webhook endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the webhook URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Exchange sends one request and returns the normalized reply. Failures are
// returned as *Error; callers turn them into a reply with UserMessage.
func (c *Client) Exchange(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	reply, err := raceTimeout(ctx, c.timeout, func(ctx context.Context) (string, error) {
		return c.post(ctx, req)
	})

	logger := log.With().
		Str("session_id", req.SessionID).
		Dur("duration", time.Since(start)).
		Logger()
	if err != nil {
		logger.Warn().Err(err).Str("kind", KindOf(err).String()).Msg("exchange failed")
		return "", err
	}
	logger.Debug().Int("reply_len", len(reply)).Msg("exchange settled")
	return reply, nil
}

func (c *Client) post(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindUnknown, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Kind: transportKind(err), Err: fmt.Errorf("read response: %w", err)}
	}

	reply, err := Normalize(body)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Err: fmt.Errorf("parse response: %w", err)}
	}
	return reply, nil
}

// transportKind separates transport timeouts, including http.Client.Timeout and
// dial or read deadlines, from other network failures.
func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
