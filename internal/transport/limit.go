package transport

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/samcharles93/lowmem/internal/stream"
)

type limited struct {
	next    stream.Fetcher
	limiter *rate.Limiter
}

// RateLimited waits for limiter before every fetch.
func RateLimited(f stream.Fetcher, limiter *rate.Limiter) stream.Fetcher {
	return &limited{next: f, limiter: limiter}
}

// PerSecond builds a limiter allowing n fetches per second with a burst of
// burst. A non-positive n disables limiting.
func PerSecond(n float64, burst int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(n), max(burst, 1))
}

func (l *limited) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return l.next.FetchAt(ctx, dst, off)
}
