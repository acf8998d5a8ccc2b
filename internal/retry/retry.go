// Package retry runs operations again when they fail for reasons that are
// expected to clear up on their own: dropped connections, navigation
// timeouts, serialization conflicts, an unreachable database.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Policy is the shared escalation policy for fetches and storage calls.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    Classifier
	Logger      *zap.Logger
}

// DefaultPolicy returns the policy configured in constants.RetryConfig.
func DefaultPolicy(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts: constants.RetryConfig.MaxAttempts,
		BaseDelay:   constants.RetryConfig.BaseDelay,
		Classify:    IsRetryable,
		Logger:      logger,
	}
}

// Delay is the wait before the attempt following attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Do calls op until it succeeds, fails with a non-retryable error, the
// attempt budget is spent, or ctx is done. The last error is returned wrapped
// with name.
func Do[T any](ctx context.Context, policy Policy, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	classify := policy.Classify
	if classify == nil {
		classify = IsRetryable
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%s: %w (last error: %v)", name, err, lastErr)
			}
			return zero, fmt.Errorf("%s: %w", name, err)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		if attempt == maxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn("Retryable failure, backing off",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", name, maxAttempts, lastErr)
}

// transientMessage is only consulted when an error carries no structured kind.
var transientMessage = regexp.MustCompile(`(?i)(connection (reset|refused|closed)|broken pipe|timed? ?out|timeout|deadlock|could not serialize|serialization failure|too many connections|server closed the connection|no such host|temporarily unavailable|net::err_)`)

// IsRetryable classifies err using structured error kinds first and message
// matching only for errors that carry none.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var storeErr *errors.StoreError
	if stderrors.As(err, &storeErr) {
		return storeErr.Kind.Retryable()
	}
	var fetchErr *errors.FetchError
	if stderrors.As(err, &fetchErr) {
		return fetchErr.Transient
	}
	var parseErr *errors.ParseError
	if stderrors.As(err, &parseErr) {
		return false
	}
	var identityErr *errors.IdentityError
	if stderrors.As(err, &identityErr) {
		return false
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	if stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return transientMessage.MatchString(err.Error())
}
