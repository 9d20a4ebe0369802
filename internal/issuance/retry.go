package issuance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type lookup struct {
	ref   string
	found bool
}

// retry runs op until it succeeds, fails with a non-transient error or the
// attempt budget is spent. The delay grows linearly between attempts.
func retry[T any](ctx context.Context, s *issuanceService, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; ; attempt++ {
		out, err = fn(ctx)
		if err == nil || Classify(err) != KindTransient || attempt >= s.opts.RetryAttempts {
			return out, err
		}

		delay := s.opts.RetryDelay * time.Duration(attempt)
		s.logger.Warn("Retrying after transient error",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, err
		case <-timer.C:
		}
	}
}
