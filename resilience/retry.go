package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Policy retries an operation with exponential backoff. Only transient
// transport failures are retried; domain errors (bad arguments, missing rows,
// failed preconditions such as insufficient stock) surface immediately.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Logger         *zap.Logger
}

// DefaultPolicy matches the reservation-engine contract: three attempts,
// 50ms doubling to 200ms.
func DefaultPolicy(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		Logger:         logger,
	}
}

// Retryable reports whether the error is a transient infra failure.
func Retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}

// Do runs fn, retrying transient failures up to MaxAttempts. The last error
// is returned once attempts are exhausted.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		if p.Logger != nil {
			p.Logger.Warn("Retrying operation",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return lastErr
}
