package quant

import (
	"errors"
	"fmt"
)

// Path reports which multiply MatMulHybrid actually ran.
type Path int

const (
	PathHybrid Path = iota
	PathFloat
)

func (p Path) String() string {
	if p == PathHybrid {
		return "hybrid"
	}
	return "float"
}

func checkMatMul(dst []float32, a *Matrix, b []float32, m, n, k int) error {
	if a == nil {
		return fmt.Errorf("%w: nil matrix", ErrShape)
	}
	if m < 0 || n < 0 || k < 0 {
		return fmt.Errorf("%w: negative dimension", ErrShape)
	}
	if a.Rows*a.Cols != m*k {
		return fmt.Errorf("%w: A is %dx%d, want %d elements", ErrShape, a.Rows, a.Cols, m*k)
	}
	if len(b) < k*n {
		return fmt.Errorf("%w: B has %d values, need %d", ErrShape, len(b), k*n)
	}
	if len(dst) < m*n {
		return fmt.Errorf("%w: C has %d values, need %d", ErrShape, len(dst), m*n)
	}
	return nil
}

// MatMulFloat computes dst = A x B with A (m x k) quantised and B (k x n)
// float32, dequantising A on the fly. It is the accuracy baseline.
func MatMulFloat(dst []float32, a *Matrix, b []float32, m, n, k int) error {
	if err := checkMatMul(dst, a, b, m, n, k); err != nil {
		return err
	}
	for i := 0; i < m; i++ {
		row := dst[i*n : i*n+n]
		clear(row)
		for l := 0; l < k; l++ {
			av := a.At(i*k + l)
			if av == 0 {
				continue
			}
			brow := b[l*n : l*n+n]
			for j := range row {
				row[j] += av * brow[j]
			}
		}
	}
	return nil
}

// MatMulHybrid computes dst = A x B with no block limit.
func MatMulHybrid(dst []float32, a *Matrix, b []float32, m, n, k int) (Path, error) {
	return Codec{}.MatMulHybrid(dst, a, b, m, n, k)
}

// MatMulHybrid computes dst = A x B by quantising B as well and accumulating
// in integers.
//
// Each column of B is quantised in groups along k using A's format. The
// inner product then walks runs where both the A block and the B block are
// fixed, sums the integer products of the run and rescales it once by
// scaleA*scaleB. If the codec cannot hold the quantised copy of B, the float
// path runs instead and PathFloat is returned.
func (c Codec) MatMulHybrid(dst []float32, a *Matrix, b []float32, m, n, k int) (Path, error) {
	if err := checkMatMul(dst, a, b, m, n, k); err != nil {
		return PathFloat, err
	}
	f := a.Format
	g := f.GroupSize
	perCol := ceilDiv(k, g)
	count, ok := mulInt(perCol, n)
	if !ok {
		return PathFloat, MatMulFloat(dst, a, b, m, n, k)
	}
	bq, err := c.allocBlocks(f, count)
	if errors.Is(err, ErrAllocation) {
		return PathFloat, MatMulFloat(dst, a, b, m, n, k)
	}
	if err != nil {
		return PathFloat, err
	}

	col := make([]float32, g)
	for j := 0; j < n; j++ {
		for gi := 0; gi < perCol; gi++ {
			start := gi * g
			end := min(start+g, k)
			seg := col[:end-start]
			for l := start; l < end; l++ {
				seg[l-start] = b[l*n+j]
			}
			quantizeGroup(f, seg, &bq[j*perCol+gi])
		}
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			colBlocks := bq[j*perCol : (j+1)*perCol]
			var acc float32
			for l := 0; l < k; {
				ai := i*k + l
				ab, ao := ai/g, ai%g
				bb, bo := l/g, l%g
				span := min(g-ao, g-bo, k-l)
				ablk, bblk := &a.Blocks[ab], &colBlocks[bb]
				s := dotInt8(ablk.Values[ao:ao+span], bblk.Values[bo:bo+span])
				acc += float32(s) * (ablk.Scale * bblk.Scale)
				l += span
			}
			dst[i*n+j] = acc
		}
	}
	return PathHybrid, nil
}

func dotInt8(a, b []int8) int32 {
	b = b[:len(a)]
	var s0, s1 int32
	i := 0
	for ; i+1 < len(a); i += 2 {
		s0 += int32(a[i]) * int32(b[i])
		s1 += int32(a[i+1]) * int32(b[i+1])
	}
	if i < len(a) {
		s0 += int32(a[i]) * int32(b[i])
	}
	return s0 + s1
}
