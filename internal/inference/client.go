// Package inference talks to the external diffusion backend using its
// two-phase start/check protocol.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"diffgrid/internal/diffusion"
)

const (
	startPath = "/start/v4"
	checkPath = "/check/v4"

	maxBodyBytes = 64 << 20
)

type Config struct {
	BaseURL  string
	APIKey   string
	ModelKey string
	// Timeout bounds each HTTP attempt. Default: 900s.
	Timeout time.Duration

	// MaxAttempts counts the first try. Default: 8.
	MaxAttempts int
	// InitialInterval is the first backoff delay. Default: 500ms.
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay. Default: 30s.
	MaxInterval time.Duration

	// RPS limits attempts per second across all callers; 0 disables.
	RPS   float64
	Burst int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is safe for concurrent use; it shares one pooled *http.Client.
type Client struct {
	http     *http.Client
	startURL string
	checkURL string
	apiKey   string
	modelKey string

	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	limiter         *rate.Limiter
	log             *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.ModelKey) == "" {
		return nil, fmt.Errorf("api key and model key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		http:            httpClient,
		startURL:        base.ResolveReference(&url.URL{Path: startPath}).String(),
		checkURL:        base.ResolveReference(&url.URL{Path: checkPath}).String(),
		apiKey:          cfg.APIKey,
		modelKey:        cfg.ModelKey,
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		limiter:         limiter,
		log:             logger.With("component", "inference"),
	}, nil
}

// Start submits a job and returns the backend message and its call ID.
// A timeout is returned as ErrTimeout; whether the job started is unknown.
func (c *Client) Start(ctx context.Context, inputs diffusion.ModelInputs) (string, string, error) {
	raw, err := c.request(ctx, c.startURL, startRequest{
		APIKey:      c.apiKey,
		ModelKey:    c.modelKey,
		StartOnly:   true,
		ModelInputs: inputs,
	})
	if err != nil {
		return "", "", err
	}
	message, callID, err := decodeStart(raw)
	if err != nil {
		return "", "", err
	}
	if err := validateMessage(message); err != nil {
		return "", "", err
	}
	return message, callID, nil
}

// Check polls a job. Nil outputs mean the job is still running. A timeout
// is returned as ErrTimeout and callers may treat it as still running.
func (c *Client) Check(ctx context.Context, callID string) (string, *diffusion.ModelOutputs, error) {
	raw, err := c.request(ctx, c.checkURL, checkRequest{
		APIKey:   c.apiKey,
		CallID:   callID,
		LongPoll: false,
	})
	if err != nil {
		return "", nil, err
	}
	message, outputs, err := decodeCheck(raw)
	if err != nil {
		return "", nil, err
	}
	if err := validateMessage(message); err != nil {
		return "", nil, err
	}
	return message, outputs, nil
}

// request posts payload with retries. The backend reports "no capacity"
// through several status codes, so all of them are retried with
// exponential backoff; it does no queueing of its own.
func (c *Client) request(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var out []byte
	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		raw, err := c.post(ctx, endpoint, body)
		if err != nil {
			return err
		}
		out = raw
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("retrying inference request",
			"endpoint", endpoint, "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, c.retryPolicy(ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

// post performs one attempt. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("inference request", "endpoint", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.log.Error("inference request timed out", "endpoint", endpoint, "error", err)
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrTimeout, endpoint))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrTimeout, endpoint))
		}
		return nil, err
	}
	c.log.Debug("inference response", "endpoint", endpoint, "status", resp.StatusCode, "body", truncate(raw, 2048))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	statusErr := &StatusError{
		Code:      resp.StatusCode,
		Body:      truncate(raw, 2048),
		Retryable: isRetryableStatus(resp.StatusCode),
	}
	if statusErr.Retryable {
		return nil, statusErr
	}
	return nil, backoff.Permanent(statusErr)
}

// isRetryableStatus lists every code the backend has been seen to use for
// transient unavailability, 400 included.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadRequest,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(raw []byte, max int) string {
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
