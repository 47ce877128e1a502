package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ClientConfig holds transport and resilience settings for one adapter
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64 // 0 disables rate limiting
	Burst         int
	MaxRetries    int
	RetryInterval time.Duration
	MaxInterval   time.Duration
	HTTPClient    *http.Client
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// statusError carries the HTTP status of a failed upstream call
type statusError struct {
	code int
	body string
	kind error
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("%v: %d", e.kind, e.code)
	}
	return fmt.Sprintf("%v: %d: %s", e.kind, e.code, e.body)
}

func (e *statusError) Unwrap() error {
	return e.kind
}

// transport executes upstream requests through a rate limiter, a circuit
// breaker and an optional exponential backoff retry loop
type transport struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries int
	initial time.Duration
	max     time.Duration
	logger  *slog.Logger
}

func newTransport(name string, cfg ClientConfig, logger *slog.Logger) *transport {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	initial := cfg.RetryInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &transport{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		retries: cfg.MaxRetries,
		initial: initial,
		max:     cfg.MaxInterval,
		logger:  logger,
	}
}

// get performs a GET and returns the body of a 2xx response
func (t *transport) get(ctx context.Context, url string) ([]byte, error) {
	var attempt int

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait canceled: %w", err)
		}

		result, err := t.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}

			resp, err := t.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read response body: %w", err)
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, &statusError{code: resp.StatusCode, kind: errRateLimited}
			case resp.StatusCode >= 500:
				return nil, &statusError{code: resp.StatusCode, body: truncate(body), kind: errServerError}
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return nil, &statusError{code: resp.StatusCode, body: truncate(body), kind: errUnexpected}
			}

			return body, nil
		})

		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		if !retryable(err) || attempt >= t.retries || ctx.Err() != nil {
			return nil, err
		}

		delay := t.initial * time.Duration(math.Pow(2, float64(attempt)))
		if t.max > 0 && delay > t.max {
			delay = t.max
		}

		t.logger.Warn("Upstream request failed, retrying",
			slog.String("source", t.name),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", t.retries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// retryable reports whether a failed call may succeed on a later attempt
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return errors.Is(se.kind, errRateLimited) || errors.Is(se.kind, errServerError)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// statusCode extracts the HTTP status from a transport error, or 0
func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return strings.ToValidUTF8(string(body[:max]), "") + "..."
	}
	return string(body)
}
