// Package quant implements symmetric block quantisation of float32 weight
// matrices.
//
// Values are split into fixed-size groups. Each group stores one float32 scale
// and one narrow signed integer per value, with scale chosen so that the
// group's largest magnitude maps to the format's largest integer.
package quant

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrAllocation means a block array would exceed the codec's memory
	// ceiling. It is recoverable: callers fall back to a smaller path.
	ErrAllocation = errors.New("quant: block allocation exceeds limit")
	ErrShape      = errors.New("quant: shape mismatch")
	ErrFormat     = errors.New("quant: unknown format")
)

// Format describes one quantisation scheme.
type Format struct {
	Name      string
	GroupSize int
	// MaxQ is the largest representable magnitude; values lie in [-MaxQ, MaxQ].
	MaxQ int
	// Bits is the stored width of one value in the block file format.
	Bits int
}

var (
	// Q8 is the 8-bit scheme: groups of 32 in [-127, 127].
	Q8 = Format{Name: "q8_0", GroupSize: 32, MaxQ: 127, Bits: 8}
	// Q6 is the 6-bit scheme: groups of 64 in [-31, 31].
	Q6 = Format{Name: "q6_g64", GroupSize: 64, MaxQ: 31, Bits: 6}
)

var formats = []Format{Q8, Q6}

// FormatByName looks up a format by its Name.
func FormatByName(name string) (Format, error) {
	for _, f := range formats {
		if f.Name == name {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("%w: %q", ErrFormat, name)
}

func formatFor(groupSize, bits int) (Format, bool) {
	for _, f := range formats {
		if f.GroupSize == groupSize && f.Bits == bits {
			return f, true
		}
	}
	return Format{}, false
}

func (f Format) valid() bool {
	return f.GroupSize > 0 && f.MaxQ > 0 && (f.Bits == 8 || f.Bits == 6) && f.GroupSize*f.Bits%8 == 0
}

// packedBytes is the stored size of one group's values.
func (f Format) packedBytes() int {
	return f.GroupSize * f.Bits / 8
}

// Block is one group of quantised values sharing a scale.
type Block struct {
	Scale  float32
	Values []int8
}

// Matrix is a quantised row-major matrix. The final block may carry zero
// padding past Rows*Cols; it is never read as data.
type Matrix struct {
	Format Format
	Blocks []Block
	Rows   int
	Cols   int
}

// Len returns the number of logical elements.
func (m *Matrix) Len() int {
	return m.Rows * m.Cols
}

// At dequantises the i-th element in row-major order.
func (m *Matrix) At(i int) float32 {
	g := m.Format.GroupSize
	b := &m.Blocks[i/g]
	return float32(b.Values[i%g]) * b.Scale
}

// Dequantize writes all Len() elements into dst.
func (m *Matrix) Dequantize(dst []float32) error {
	n := m.Len()
	if len(dst) < n {
		return fmt.Errorf("%w: dst has %d elements, need %d", ErrShape, len(dst), n)
	}
	g := m.Format.GroupSize
	for bi := range m.Blocks {
		start := bi * g
		end := min(start+g, n)
		if start >= end {
			break
		}
		b := &m.Blocks[bi]
		for i := start; i < end; i++ {
			dst[i] = float32(b.Values[i-start]) * b.Scale
		}
	}
	return nil
}

// DequantizeBlock writes len(b.Values) floats into dst.
func DequantizeBlock(b Block, dst []float32) {
	dst = dst[:len(b.Values)]
	for i, v := range b.Values {
		dst[i] = float32(v) * b.Scale
	}
}

// ValueBytes is the storage taken by the packed integer values alone.
func (m *Matrix) ValueBytes() int {
	return len(m.Blocks) * m.Format.packedBytes()
}

// SizeBytes is ValueBytes plus one float32 scale per block.
func (m *Matrix) SizeBytes() int {
	return m.ValueBytes() + 4*len(m.Blocks)
}

// CompressionRatio compares the float32 original with the packed values:
// exactly 4 for Q8 and 32/6 for Q6 when Rows*Cols fills whole groups.
func (m *Matrix) CompressionRatio() float64 {
	vb := m.ValueBytes()
	if vb == 0 {
		return 0
	}
	return float64(m.Len()*4) / float64(vb)
}

// FootprintRatio is CompressionRatio with the per-block scales counted.
func (m *Matrix) FootprintRatio() float64 {
	sb := m.SizeBytes()
	if sb == 0 {
		return 0
	}
	return float64(m.Len()*4) / float64(sb)
}

// Codec quantises under an optional memory ceiling.
type Codec struct {
	// MaxBlocks bounds every block array the codec allocates, results and
	// temporaries alike. Zero means no bound.
	MaxBlocks int
}

// Quantize quantises w, a rows x cols row-major matrix, with no block limit.
func Quantize(f Format, w []float32, rows, cols int) (*Matrix, error) {
	return Codec{}.Quantize(f, w, rows, cols)
}

// Quantize quantises w, a rows x cols row-major matrix.
func (c Codec) Quantize(f Format, w []float32, rows, cols int) (*Matrix, error) {
	if !f.valid() {
		return nil, fmt.Errorf("%w: %+v", ErrFormat, f)
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: negative dimension %dx%d", ErrShape, rows, cols)
	}
	n, ok := mulInt(rows, cols)
	if !ok {
		return nil, fmt.Errorf("%w: %dx%d overflows", ErrShape, rows, cols)
	}
	if len(w) < n {
		return nil, fmt.Errorf("%w: have %d values, need %d", ErrShape, len(w), n)
	}
	blocks, err := c.allocBlocks(f, ceilDiv(n, f.GroupSize))
	if err != nil {
		return nil, err
	}
	g := f.GroupSize
	for bi := range blocks {
		start := bi * g
		end := min(start+g, n)
		quantizeGroup(f, w[start:end], &blocks[bi])
	}
	return &Matrix{Format: f, Blocks: blocks, Rows: rows, Cols: cols}, nil
}

// allocBlocks returns count blocks whose Values share one backing array.
func (c Codec) allocBlocks(f Format, count int) ([]Block, error) {
	if c.MaxBlocks > 0 && count > c.MaxBlocks {
		return nil, fmt.Errorf("%w: %d blocks, limit %d", ErrAllocation, count, c.MaxBlocks)
	}
	total, ok := mulInt(count, f.GroupSize)
	if !ok {
		return nil, fmt.Errorf("%w: %d blocks overflows", ErrAllocation, count)
	}
	values := make([]int8, total)
	blocks := make([]Block, count)
	for i := range blocks {
		blocks[i].Values = values[i*f.GroupSize : (i+1)*f.GroupSize : (i+1)*f.GroupSize]
	}
	return blocks, nil
}

// quantizeGroup fills dst from src; len(src) may be short of GroupSize, in
// which case the trailing values stay zero.
func quantizeGroup(f Format, src []float32, dst *Block) {
	var maxAbs float32
	for _, v := range src {
		if v < 0 {
			v = -v
		}
		if v > maxAbs {
			maxAbs = v
		}
	}
	scale := maxAbs / float32(f.MaxQ)
	if scale == 0 {
		scale = 1
	}
	dst.Scale = scale
	maxQ := int32(f.MaxQ)
	for i, v := range src {
		// math.Round rounds half away from zero.
		q := int32(math.Round(float64(v / scale)))
		if q > maxQ {
			q = maxQ
		} else if q < -maxQ {
			q = -maxQ
		}
		dst.Values[i] = int8(q)
	}
	for i := len(src); i < len(dst.Values); i++ {
		dst.Values[i] = 0
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func mulInt(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > int(^uint(0)>>1)/b {
		return 0, false
	}
	return a * b, true
}
