package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-metrics/internal/weather"
)

// maxErrorBody caps how much of a failed response body is kept on the error.
const maxErrorBody = 512

var errNoHTTPClient = errors.New("http client not configured")

// BreakerConfig controls the circuit breaker wrapped around provider calls.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ConsecutiveFailures opens the breaker after this many failures in a row.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig opens after five consecutive failures for two minutes.
var DefaultBreakerConfig = BreakerConfig{
	MaxRequests:         5,
	Interval:            1 * time.Minute,
	Timeout:             2 * time.Minute,
	ConsecutiveFailures: 5,
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultBreakerConfig.ConsecutiveFailures
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	})
}

// doRequest executes exactly one GET through the circuit breaker and returns
// the body of a 2xx response. Every failure comes back as a
// *weather.ProviderUnavailableError; retrying is the caller's business.
func doRequest(ctx context.Context, client *http.Client, cb *gobreaker.CircuitBreaker, provider, endpoint, rawURL string) ([]byte, error) {
	fail := func(status int, body string, err error) error {
		return &weather.ProviderUnavailableError{
			Provider:   provider,
			Endpoint:   endpoint,
			StatusCode: status,
			Body:       body,
			Err:        err,
		}
	}

	if client == nil {
		return nil, fail(0, "", errNoHTTPClient)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fail(0, "", err)
	}

	// Client errors are the caller's fault, not the provider's: they are carried
	// in the result so they do not count against the breaker.
	type response struct {
		body []byte
		err  error
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			// The request URL carries the credential; keep it out of the error.
			var ue *url.Error
			if errors.As(execErr, &ue) {
				execErr = ue.Err
			}
			return nil, fail(0, "", execErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			pe := fail(resp.StatusCode, string(body), nil)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, pe
			}
			return response{err: pe}, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fail(resp.StatusCode, "", readErr)
		}
		return response{body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fail(0, "", err)
		}
		return nil, err
	}

	res, ok := result.(response)
	if !ok {
		return nil, fail(0, "", errors.New("unexpected result type from circuit breaker"))
	}
	return res.body, res.err
}
