package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/internal/stream"
)

// RetryPolicy bounds how hard Retry tries.
type RetryPolicy struct {
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	// MaxElapsed caps total time across attempts. Zero means no cap.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// DefaultRetryPolicy suits a weight server on a local network.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      30 * time.Second,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = p.MaxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

type retrying struct {
	next   stream.Fetcher
	policy RetryPolicy
	log    logger.Logger
}

// Retry repeats failed or short fetches with exponential backoff. Context
// cancellation, ErrOutOfRange and non-temporary HTTP statuses end the
// attempts immediately.
func Retry(f stream.Fetcher, p RetryPolicy, log logger.Logger) stream.Fetcher {
	return &retrying{next: f, policy: p, log: logger.OrDiscard(log)}
}

func (r *retrying) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	var n int
	op := func() error {
		var err error
		n, err = r.next.FetchAt(ctx, dst, off)
		if err == nil && n < len(dst) {
			err = io.ErrUnexpectedEOF
		}
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("fetch failed, retrying", "offset", off, "bytes", len(dst), "wait", wait, "error", err)
	}
	err := backoff.RetryNotify(op, r.policy.backoff(ctx), notify)
	return n, err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrClosed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
