package consumer

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls in-place redelivery of a message whose handling
// failed transiently. Zero values fall back to 200ms doubling up to 10s.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
	OnRetry func(attempt int, err error)
}

// HandleWithRetry keeps handling raw until it succeeds or turns out to be
// malformed, waiting between attempts. Any other error is returned only once
// ctx is done, and then the message must not be acknowledged: offset based
// brokers would otherwise skip it for good.
func (h *Handler) HandleWithRetry(ctx context.Context, raw []byte, p RetryPolicy) error {
	wait := p.Initial
	if wait <= 0 {
		wait = 200 * time.Millisecond
	}
	maxWait := p.Max
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	if maxWait < wait {
		maxWait = wait
	}

	for attempt := 1; ; attempt++ {
		err := h.Handle(ctx, raw)
		if err == nil || errors.Is(err, ErrMalformed) {
			return err
		}
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}
