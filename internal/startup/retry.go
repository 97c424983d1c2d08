package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcore/internal/logger"
)

// Пауза между попытками удваивается от initialBackoff до maxBackoff.
var (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// retry повторяет attempt, пока он не удастся, не истечёт maxWait или не отменят ctx.
func retry(ctx context.Context, what string, maxWait time.Duration, attempt func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	wait := initialBackoff
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", what, ctx.Err())
		}
		if time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, maxBackoff)
	}
}
