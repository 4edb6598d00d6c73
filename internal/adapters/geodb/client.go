// Package geodb implements the vector cube provider backed by the geoDB
// PostgREST API.
package geodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

const userAgent = "geodb-openeo"

// Config holds the geoDB connection settings.
type Config struct {
	URL             string
	Port            int
	Timeout         time.Duration
	Retries         int           // retries on transport errors and 5xx
	RetryWait       time.Duration // initial backoff interval
	BreakerFailures uint32        // consecutive failures opening the breaker
	BreakerTimeout  time.Duration // open state duration
	BreakerHalfOpen uint32        // requests allowed while half-open
}

// Client talks to the geoDB PostgREST API. It is shared by all providers;
// the access token is passed per call.
type Client struct {
	rest    *resty.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	cfg     Config
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewClient creates a geoDB client.
func NewClient(cfg Config, metrics output.MetricsCollector, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerHalfOpen == 0 {
		cfg.BreakerHalfOpen = 1
	}

	baseURL := strings.TrimSuffix(cfg.URL, "/")
	if cfg.Port > 0 {
		baseURL = fmt.Sprintf("%s:%d", baseURL, cfg.Port)
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	c := &Client{
		rest:    rest,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "geodb",
		MaxRequests: cfg.BreakerHalfOpen,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// BaseURL returns the PostgREST base URL.
func (c *Client) BaseURL() string {
	return c.rest.BaseURL
}

// SetTransport replaces the HTTP transport.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.rest.SetTransport(rt)
}

// Check reports the remote store unavailable while the breaker is open.
func (c *Client) Check(_ context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return domain.ErrRemoteUnavailable
	}
	return nil
}

// RPC calls a PostgREST remote procedure.
func (c *Client) RPC(ctx context.Context, token, name string, payload any) ([]byte, error) {
	return c.call(ctx, "rpc/"+name, token, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Content-Type", "application/json").SetBody(payload).Post("/rpc/" + name)
	})
}

// Table reads rows of a table.
func (c *Client) Table(ctx context.Context, token, table string, query url.Values) ([]byte, error) {
	return c.call(ctx, "table", token, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParamsFromValues(query).Get("/" + url.PathEscape(table))
	})
}

func (c *Client) call(ctx context.Context, operation, token string, send func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var body []byte
		attempt := func() error {
			req := c.rest.R().SetContext(ctx)
			if token != "" {
				req.SetAuthToken(token)
			}
			resp, err := send(req)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return fmt.Errorf("%v: %w", err, domain.ErrRemoteUnavailable)
			}
			if err := statusError(resp); err != nil {
				if errors.Is(err, domain.ErrUnavailable) {
					return err
				}
				return backoff.Permanent(err)
			}
			body = resp.Body()
			return nil
		}
		err := backoff.RetryNotify(attempt, c.retryPolicy(ctx), func(err error, wait time.Duration) {
			c.logger.Debug("retrying geodb call", "operation", operation, "wait", wait, "error", err)
		})
		return body, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%v: %w", err, domain.ErrRemoteUnavailable)
	}

	c.metrics.IncRemoteCalls(operation, err == nil)
	c.metrics.ObserveRemoteDuration(operation, time.Since(start))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryWait
	b.MaxInterval = 20 * c.cfg.RetryWait
	b.MaxElapsedTime = 0
	b.Reset()

	retries := c.cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// statusError maps PostgREST status codes onto the error taxonomy.
func statusError(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("status %d: %w", code, domain.ErrCollectionNotFound)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", code, domain.ErrUnauthenticated)
	case code >= 500:
		return fmt.Errorf("status %d: %w", code, domain.ErrRemoteUnavailable)
	default:
		return fmt.Errorf("status %d: %s: %w", code, strings.TrimSpace(resp.String()), domain.ErrInvalidInput)
	}
}
