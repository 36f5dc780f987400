package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// WithTimeout runs fn under a derived context that is cancelled after the
// given duration. A zero or negative timeout means no limit. When fn does
// not finish in time the returned error wraps ErrTimeout; fn keeps the
// cancelled context and is expected to unwind on its own.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return apperrors.Newf(apperrors.ErrTimeout, 503, "%s did not finish within %v", name, timeout)
	}
}
