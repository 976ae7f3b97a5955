// Package stream holds one layer of weights at a time in a single reusable
// buffer, filled on demand from a Fetcher.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/lowmem/internal/logger"
	"github.com/samcharles93/lowmem/pkg/layout"
)

var (
	// ErrCapacity reports a region larger than the buffer. It is a
	// configuration error: the model does not fit this buffer.
	ErrCapacity = errors.New("stream: region exceeds buffer capacity")

	// ErrTransport reports that the Fetcher failed or delivered fewer bytes
	// than requested. The buffer is left Empty.
	ErrTransport = errors.New("stream: transport failure")

	// ErrNotResident is returned by View when no region is loaded.
	ErrNotResident = errors.New("stream: no region resident")
)

// Fetcher fills dst with the blob bytes starting at off and returns how many
// bytes it wrote. Implementations live in internal/transport.
type Fetcher interface {
	FetchAt(ctx context.Context, dst []byte, off int64) (int, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, dst []byte, off int64) (int, error)

func (f FetcherFunc) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	return f(ctx, dst, off)
}

// State is the buffer lifecycle: Empty, then Fetching while a request is in
// flight, then Resident until the next request.
type State uint8

const (
	StateEmpty State = iota
	StateFetching
	StateResident
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFetching:
		return "fetching"
	case StateResident:
		return "resident"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Buffer is a fixed-capacity staging area for one region at a time.
//
// The slice returned by Request and View aliases the buffer's storage. It is
// valid only until the next Request, which overwrites it in place. A Buffer
// is not safe for concurrent use.
type Buffer struct {
	data    []byte
	fetcher Fetcher
	log     logger.Logger

	state    State
	resident layout.Region
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger. The default discards.
func WithLogger(l logger.Logger) Option {
	return func(b *Buffer) { b.log = logger.OrDiscard(l) }
}

// NewBuffer allocates capacity bytes up front. Nothing is allocated per
// request.
func NewBuffer(capacity int, f Fetcher, opts ...Option) *Buffer {
	if capacity < 0 {
		panic(fmt.Sprintf("stream: negative capacity %d", capacity))
	}
	b := &Buffer{
		data:    make([]byte, capacity),
		fetcher: f,
		log:     logger.Discard(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Capacity is the largest region the buffer can hold.
func (b *Buffer) Capacity() int { return len(b.data) }

// State returns the current lifecycle state.
func (b *Buffer) State() State { return b.state }

// Resident returns the loaded region; it is meaningful only in StateResident.
func (b *Buffer) Resident() layout.Region { return b.resident }

// CheckCapacity fails with ErrCapacity when a region of size bytes could
// never be held. Call it once per model before the first Request.
func (b *Buffer) CheckCapacity(size uint64) error {
	if size > uint64(len(b.data)) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrCapacity, size, len(b.data))
	}
	return nil
}

// Request makes r resident and returns a view of its bytes.
//
// An oversized region fails before anything changes, so a previously
// resident region stays readable. Requesting the region that is already
// resident returns it without fetching again.
func (b *Buffer) Request(ctx context.Context, r layout.Region) ([]byte, error) {
	if err := b.CheckCapacity(r.Size); err != nil {
		return nil, err
	}
	if b.state == StateResident && b.resident == r {
		return b.data[:r.Size], nil
	}
	if r.Offset > math.MaxInt64 {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrTransport, r.Offset)
	}

	b.state = StateFetching
	b.resident = layout.Region{}
	dst := b.data[:r.Size]
	n, err := b.fetcher.FetchAt(ctx, dst, int64(r.Offset))
	switch {
	case err != nil:
		b.state = StateEmpty
		b.log.Warn("fetch failed", "region", r.String(), "error", err)
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrTransport, r, err)
	case n != len(dst):
		b.state = StateEmpty
		b.log.Warn("short fetch", "region", r.String(), "got", n)
		return nil, fmt.Errorf("%w: fetch %s: got %d of %d bytes", ErrTransport, r, n, len(dst))
	}

	b.state = StateResident
	b.resident = r
	b.log.Debug("region resident", "region", r.String(), "bytes", n)
	return dst, nil
}

// View returns the resident bytes.
func (b *Buffer) View() ([]byte, error) {
	if b.state != StateResident {
		return nil, fmt.Errorf("%w (state %s)", ErrNotResident, b.state)
	}
	return b.data[:b.resident.Size], nil
}

// Slice returns the bytes of sub, which must lie inside the resident region.
// Offsets in sub are absolute blob offsets.
func (b *Buffer) Slice(sub layout.Region) ([]byte, error) {
	view, err := b.View()
	if err != nil {
		return nil, err
	}
	if !b.resident.Contains(sub) {
		return nil, fmt.Errorf("stream: %s not inside resident %s", sub, b.resident)
	}
	start := sub.Offset - b.resident.Offset
	return view[start : start+sub.Size], nil
}

// DecodeFloat32 decodes little-endian float32 values from raw into dst.
// len(raw) must be exactly 4*len(dst).
func DecodeFloat32(dst []float32, raw []byte) error {
	if len(raw) != len(dst)*layout.FloatSize {
		return fmt.Errorf("stream: decode %d bytes into %d floats", len(raw), len(dst))
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*layout.FloatSize:]))
	}
	return nil
}
