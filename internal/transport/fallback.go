package transport

import (
	"context"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/internal/stream"
)

type fallback struct {
	primary   stream.Fetcher
	secondary stream.Fetcher
	log       logger.Logger
}

// Fallback tries primary and, when it fails or comes up short, serves the
// same range from secondary. A cancelled context is not retried.
func Fallback(primary, secondary stream.Fetcher, log logger.Logger) stream.Fetcher {
	return &fallback{primary: primary, secondary: secondary, log: logger.OrDiscard(log)}
}

func (f *fallback) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	n, err := f.primary.FetchAt(ctx, dst, off)
	if err == nil && n == len(dst) {
		return n, nil
	}
	if ctx.Err() != nil {
		return n, err
	}
	f.log.Warn("primary fetch failed, using fallback", "offset", off, "bytes", len(dst), "got", n, "error", err)
	return f.secondary.FetchAt(ctx, dst, off)
}
