package graph

import (
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Breaker tuning. A shared upstream outage trips the breaker so that the
// remaining buildings of a run fail fast instead of each waiting out its own
// timeouts.
const (
	breakerHalfOpenRequests = 3
	breakerInterval         = time.Minute
	breakerOpenTimeout      = 30 * time.Second
	breakerMinRequests      = 10
	breakerFailureRatio     = 0.6
)

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[*Response] {
	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= breakerFailureRatio {
				logger.Warn("opening circuit breaker",
					"breaker", name,
					"failures", counts.TotalFailures,
					"failure_rate", ratio,
				)
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				"breaker", name,
				"from", stateToString(from),
				"to", stateToString(to),
			)
		},
	})
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
