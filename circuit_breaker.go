package tidekv

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tidekv/tidekv/wire"
)

// CircuitBreaker guards requests to one server. Every exchange, single or
// batch, goes through Execute; State is exposed for stats.
type CircuitBreaker interface {
	Execute(fn func() ([]*wire.Response, error)) ([]*wire.Response, error)
	State() gobreaker.State
}

// NewCircuitBreakerConfig returns a breaker factory for Config.NewCircuitBreaker.
// The breaker trips once at least 3 requests have been seen and 60% of them
// failed, stays open for timeout, then lets maxRequests probes through.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(serverAddr string) CircuitBreaker {
	return func(serverAddr string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[[]*wire.Response](settings)
	}
}
