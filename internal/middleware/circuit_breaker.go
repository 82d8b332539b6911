package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CircuitState is the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker stops sending traffic to the store after repeated transient
// failures and lets a few probes through once Timeout has passed
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	now             func() time.Time

	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // probe successes before closing
	Timeout          time.Duration // time open before probing
	OnStateChange    func(from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          timeout,
		now:              time.Now,
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a request may proceed
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.Timeout {
			return false
		}
		cb.setState(CircuitHalfOpen)
	}
	return true
}

// RecordSuccess records a request the store served
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.SuccessThreshold {
			cb.setState(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a transient store failure
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// CircuitBreakerMiddleware rejects requests while the breaker is open. A 503
// from the handler counts as a failure; anything below 500 as a success.
func CircuitBreakerMiddleware(cb *CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cb.Allow() {
			RespondErrorWithRetry(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable,
				"Store is temporarily unavailable due to repeated failures", int(cb.Timeout.Milliseconds()))
			return
		}

		c.Next()

		switch status := c.Writer.Status(); {
		case status == http.StatusServiceUnavailable:
			cb.RecordFailure()
		case status < http.StatusInternalServerError:
			cb.RecordSuccess()
		}
	}
}
