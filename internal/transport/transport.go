// Package transport provides the byte-range fetchers that fill a stream
// buffer: HTTP range requests, local files, and wrappers that add retries,
// pacing, fallback and metrics around any of them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samcharles93/lowmem/internal/stream"
)

var (
	// ErrOutOfRange reports a fetch that starts beyond the end of the blob.
	// Retrying it cannot succeed.
	ErrOutOfRange = errors.New("transport: range not satisfiable")

	// ErrClosed is returned by fetchers used after Close.
	ErrClosed = errors.New("transport: fetcher closed")
)

// StatusError is an unexpected HTTP status from the weight server.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %s", e.Status)
}

// Temporary reports whether the server may succeed if asked again.
func (e *StatusError) Temporary() bool {
	return e.Code == 429 || e.Code >= 500
}

// ReaderAt serves fetches from any io.ReaderAt of known size.
type ReaderAt struct {
	r    io.ReaderAt
	size int64
}

// NewReaderAt wraps r, which holds size bytes.
func NewReaderAt(r io.ReaderAt, size int64) *ReaderAt {
	return &ReaderAt{r: r, size: size}
}

// Size is the blob length.
func (f *ReaderAt) Size() int64 { return f.size }

func (f *ReaderAt) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkRange(off, len(dst), f.size); err != nil {
		return 0, err
	}
	n, err := f.r.ReadAt(dst, off)
	if n == len(dst) {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func checkRange(off int64, n int, size int64) error {
	if off < 0 || (n > 0 && off >= size) {
		return fmt.Errorf("%w: offset %d of %d", ErrOutOfRange, off, size)
	}
	return nil
}

var (
	_ stream.Fetcher = (*ReaderAt)(nil)
	_ stream.Fetcher = (*File)(nil)
	_ stream.Fetcher = (*HTTP)(nil)
)
