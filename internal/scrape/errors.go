package scrape

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"strings"
	"time"
)

// ErrorClass is the coarse taxonomy used for retry decisions.
type ErrorClass string

// Error classes. Network, timeout, and rate-limit errors are transient;
// validation and auth errors are fatal.
const (
	ErrorClassNetwork    ErrorClass = "network"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassRateLimit  ErrorClass = "rate_limit"
	ErrorClassValidation ErrorClass = "validation"
	ErrorClassAuth       ErrorClass = "auth"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// Sentinel errors recognized by the classifier.
var (
	ErrRateLimited  = errors.New("rate limited by provider")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError marks input that can never succeed on retry.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// FormattedError is a user-facing rendering of a pipeline error.
type FormattedError struct {
	Message   string     `json:"message"`
	Code      ErrorClass `json:"code"`
	Retryable bool       `json:"retryable"`
}

// ErrorHandler classifies pipeline errors and computes backoff delays.
type ErrorHandler struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewErrorHandler builds a handler with the supplied limits; non-positive
// values fall back to 3 attempts, a 1s base, and a 30s cap.
func NewErrorHandler(maxAttempts int, baseDelay, maxDelay time.Duration) *ErrorHandler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &ErrorHandler{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the configured retry ceiling.
func (h *ErrorHandler) MaxAttempts() int {
	return h.maxAttempts
}

// Classify maps an error to its taxonomy class using typed checks first and
// message signatures as a fallback.
func (h *ErrorHandler) Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return ErrorClassValidation
	}
	if errors.Is(err, ErrUnauthorized) {
		return ErrorClassAuth
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrorClassRateLimit
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ErrorClassTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return ErrorClassRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized"):
		return ErrorClassAuth
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "network"):
		return ErrorClassNetwork
	default:
		return ErrorClassUnknown
	}
}

// ShouldRetry reports whether the error is transient and attempts remain.
// Context cancellation is never retried.
func (h *ErrorHandler) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= h.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch h.Classify(err) {
	case ErrorClassNetwork, ErrorClassTimeout, ErrorClassRateLimit:
		return true
	default:
		return false
	}
}

// RetryDelay returns the jittered backoff before the given attempt. The
// expected delay doubles per attempt (base x 2^(attempt-1)) until the cap.
func (h *ErrorHandler) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(h.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(h.maxDelay) {
		delay = float64(h.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Format renders an error for user-facing reporting.
func (h *ErrorHandler) Format(err error) FormattedError {
	if err == nil {
		return FormattedError{Code: ErrorClassUnknown}
	}
	class := h.Classify(err)
	retryable := false
	switch class {
	case ErrorClassNetwork, ErrorClassTimeout, ErrorClassRateLimit:
		retryable = true
	}
	return FormattedError{
		Message:   err.Error(),
		Code:      class,
		Retryable: retryable,
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
