package pipe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPollInterval is the sleep between availability checks in WaitAvailable.
const DefaultPollInterval = 100 * time.Millisecond

var errNothingAvailable = errors.New("no bytes available")

// WaitAvailable polls ch until at least one byte is readable and returns the
// available count. It gives up with ctx's error once ctx is done. A peer that
// has gone away looks the same as a silent one, so callers should bound ctx.
func WaitAvailable(ctx context.Context, ch *Channel, interval time.Duration) (int, error) {
	if !ch.CanTransfer() {
		return 0, ch.newError(OpRead, ErrNotOpen, nil)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var available int
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.Retry(func() error {
		available = ch.PeekAvailable()
		if available == 0 {
			return errNothingAvailable
		}
		return nil
	}, b)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, err
	}
	return available, nil
}
