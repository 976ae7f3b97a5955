package session

import (
	"fmt"

	"github.com/samcharles93/lowmem/internal/stream"
	"github.com/samcharles93/lowmem/pkg/layout"
	"github.com/samcharles93/lowmem/pkg/quant"
)

// Index values for chunks that are not transformer layers.
const (
	IndexEmbedding = -1
	IndexFinal     = -2
)

// Layer is a named view over the chunk currently held by the session's
// buffer. Its accessors fail with ErrStale once the buffer has moved on.
type Layer struct {
	Index  int
	Region layout.Region

	tensors []layout.Tensor
	s       *Session
}

// Tensors lists the chunk's tensors with regions relative to Region.
func (l *Layer) Tensors() []layout.Tensor {
	return l.tensors
}

// Tensor looks up a tensor by name.
func (l *Layer) Tensor(name string) (layout.Tensor, error) {
	for _, t := range l.tensors {
		if t.Name == name {
			return t, nil
		}
	}
	return layout.Tensor{}, fmt.Errorf("%w: %q in chunk %d", ErrUnknownTensor, name, l.Index)
}

// Raw returns the stored bytes of the named tensor. The slice aliases the
// buffer.
func (l *Layer) Raw(name string) ([]byte, error) {
	t, err := l.Tensor(name)
	if err != nil {
		return nil, err
	}
	buf := l.s.buf
	if buf.State() != stream.StateResident || buf.Resident() != l.Region {
		return nil, fmt.Errorf("%w: chunk %d %s", ErrStale, l.Index, l.Region)
	}
	return buf.Slice(layout.Region{Offset: l.Region.Offset + t.Region.Offset, Size: t.Region.Size})
}

// Float32 decodes the named tensor into dst, growing it if it is too short,
// and returns the filled prefix. The result does not alias the buffer.
func (l *Layer) Float32(name string, dst []float32) ([]float32, error) {
	raw, err := l.Raw(name)
	if err != nil {
		return nil, err
	}
	n := len(raw) / layout.FloatSize
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	if err := stream.DecodeFloat32(dst, raw); err != nil {
		return nil, err
	}
	return dst, nil
}

// Quantize decodes the named tensor and quantises it with the session's
// codec.
func (l *Layer) Quantize(name string, f quant.Format) (*quant.Matrix, error) {
	t, err := l.Tensor(name)
	if err != nil {
		return nil, err
	}
	w, err := l.Float32(name, nil)
	if err != nil {
		return nil, err
	}
	return l.s.codec.Quantize(f, w, t.Rows, t.Cols)
}
