package rate

import (
	"context"
	"time"
)

// Limiter is a fixed-window counter keyed by caller-chosen strings.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// Noop allows everything.
type Noop struct{}

func (Noop) Allow(context.Context, string, time.Time) (bool, time.Duration, error) {
	return true, 0, nil
}
