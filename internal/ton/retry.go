package ton

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	tonapi "github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Lite server error codes that go away on their own: the block is not
// applied or not yet known to that server, or the server is overloaded.
var transientLSCodes = map[int32]bool{
	651:  true,
	652:  true,
	-400: true,
	-503: true,
	502:  true,
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no active connections",
	"not ready",
	"try again",
	"block is not applied",
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var lsErr tonapi.LSError
	if errors.As(err, &lsErr) && transientLSCodes[lsErr.Code] {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Retrier paces and retries ledger calls.
type Retrier struct {
	attempts    int
	backoff     time.Duration
	callTimeout time.Duration
	limiter     *rate.Limiter
	log         *zap.Logger
}

func NewRetrier(attempts int, rps float64, log *zap.Logger) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Retrier{
		attempts:    attempts,
		backoff:     500 * time.Millisecond,
		callTimeout: 20 * time.Second,
		limiter:     rate.NewLimiter(limit, 1),
		log:         log,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or attempts
// run out. Each attempt gets its own deadline so a hung call counts as a
// timeout rather than stalling the caller.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if werr := r.limiter.Wait(ctx); werr != nil {
			return werr
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}

		r.log.Warn("ledger call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.Error(err),
		)

		if attempt < r.attempts {
			select {
			case <-time.After(r.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, r.attempts, err)
}

// call is Do for functions returning a value.
func call[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
