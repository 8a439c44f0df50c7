// Package upstream implements the HTTP client for the accounting-document
// service, with bounded per-call timeouts and exponential-backoff retry.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/osouza/fiscalgate/internal/errs"
	"github.com/osouza/fiscalgate/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries bounds DoWithRetry attempts.
	DefaultMaxRetries = 3

	backoffBase = 1 * time.Second
	backoffCap  = 10 * time.Second

	userAgent = "fiscalgate/1.0.0"
)

// Client issues HTTP calls against a single upstream base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger

	// Throttle, when set, paces outgoing calls so a burst of gateway
	// traffic does not hammer the upstream.
	Throttle *rate.Limiter

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(context.Context, time.Duration) error
}

// Request describes one upstream call.
type Request struct {
	Method      string
	Path        string
	Token       string // bearer access token, empty for unauthenticated calls
	Body        []byte
	ContentType string
	Headers     map[string]string
	// Timeout overrides the client timeout for this call when positive.
	Timeout time.Duration
}

// Response is the upstream reply with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// New returns a client for the given base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
		Logger:     logger,
	}
}

// Do performs one call with a hard per-call timeout. A deadline hit is
// returned as a Timeout-kind error, distinct from other transport
// failures, which carry the Upstream kind. Non-2xx responses are not
// errors; callers inspect the status code.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.Throttle != nil {
		if err := c.Throttle.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.Upstream, "throttle wait", err)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, c.BaseURL+req.Path, body)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build upstream request", err)
	}

	httpReq.Header.Set("User-Agent", userAgent)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	} else if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errs.Newf(errs.Timeout, "upstream request timeout after %s", timeout)
		}
		return nil, errs.Wrap(errs.Upstream, "upstream request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Upstream, "read upstream response", err)
	}

	if c.Logger != nil {
		c.Logger.Debug("upstream call",
			logging.Method(req.Method),
			logging.Endpoint(req.Path),
			logging.StatusCode(resp.StatusCode))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// DoWithRetry performs the call with up to maxRetries attempts. Only
// transport failures and 5xx responses are retried; 4xx responses are
// returned to the caller as-is. Backoff doubles from one second per
// attempt, capped at ten seconds, without jitter. After the final
// attempt the last response or error is returned verbatim.
func (c *Client) DoWithRetry(ctx context.Context, req Request, maxRetries int) (*Response, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := c.Do(ctx, req)
		if err == nil {
			if resp.StatusCode < 500 {
				return resp, nil
			}
			if attempt == maxRetries {
				return resp, nil
			}
		} else {
			lastErr = err
			if attempt == maxRetries {
				return nil, lastErr
			}
		}

		delay := backoffDelay(attempt)
		if c.Logger != nil {
			c.Logger.Warn("retrying upstream call",
				logging.Endpoint(req.Path),
				logging.Attempt(attempt),
				zap.Duration("delay", delay))
		}
		if err := c.wait(ctx, delay); err != nil {
			return nil, errs.Wrap(errs.Upstream, "retry interrupted", err)
		}
	}

	return nil, lastErr
}

// backoffDelay is min(1s * 2^(attempt-1), 10s).
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
