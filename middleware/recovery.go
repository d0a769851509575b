package middleware

import (
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"chainsight/utils"
)

var (
	telemetryBreaker *gobreaker.CircuitBreaker
	once             sync.Once
)

func breaker() *gobreaker.CircuitBreaker {
	once.Do(func() {
		telemetryBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "telemetry-breaker",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				utils.Logger.Infow("Circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String())
			},
		})
	})
	return telemetryBreaker
}

// WithTelemetryBreaker guards writes to the optional telemetry sink so a
// down ClickHouse never slows the scan path.
func WithTelemetryBreaker(fn func() error) error {
	_, err := breaker().Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Recover wraps an HTTP handler so a panic in one request logs and returns
// 500 instead of killing the process.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				utils.Logger.Errorw("Panic recovered",
					"error", rec,
					"path", r.URL.Path,
					"stack", string(stack))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
