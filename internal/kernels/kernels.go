// Package kernels holds the hot linear-algebra primitives used on streamed
// weights: dot product, scaled accumulate, row-major matvec and RMS
// normalisation.
//
// Every primitive has a scalar reference and an eight-lane vector form. A Set
// binds one of the two once, so call sites never branch per call.
package kernels

import "math"

const (
	// Width is the number of float32 lanes the vector path processes at once.
	Width = 8

	// RMSEpsilon is added to the mean square before the reciprocal root.
	RMSEpsilon = 1e-5
)

// Gate reports whether the vector path may run on this host.
type Gate interface {
	VectorPathSafe() bool
}

// Set is a dispatch table chosen once per session.
type Set struct {
	Name string

	// Dot returns the sum of a[i]*b[i] over len(a). b must be at least as long.
	Dot func(a, b []float32) float32
	// Axpy computes dst[i] += alpha*src[i] over len(dst).
	Axpy func(dst, src []float32, alpha float32)
	// MatMul computes out[r] = dot(w[r*n:r*n+n], x) for r in [0, d).
	MatMul func(out, x, w []float32, n, d int)
	// RMSNorm computes out[i] = weight[i] * x[i] / sqrt(mean(x^2) + RMSEpsilon).
	RMSNorm func(out, x, weight []float32)
}

// Select returns the vector set when g allows it and the scalar set otherwise.
func Select(g Gate) Set {
	if g != nil && g.VectorPathSafe() {
		return Vector()
	}
	return Scalar()
}

// Scalar returns the reference implementations.
func Scalar() Set {
	return Set{
		Name:    "scalar",
		Dot:     dotScalar,
		Axpy:    axpyScalar,
		MatMul:  matMulScalar,
		RMSNorm: rmsNormScalar,
	}
}

// Vector returns the eight-lane implementations. Callers are expected to have
// consulted a Gate first.
func Vector() Set {
	return Set{
		Name:    vectorName,
		Dot:     dotVector,
		Axpy:    axpyVector,
		MatMul:  matMulVector,
		RMSNorm: rmsNormVector,
	}
}

func checkDot(a, b []float32) int {
	if len(b) < len(a) {
		panic("kernels: dot length mismatch")
	}
	return len(a)
}

func checkAxpy(dst, src []float32) int {
	if len(src) < len(dst) {
		panic("kernels: axpy length mismatch")
	}
	return len(dst)
}

func checkMatMul(out, x, w []float32, n, d int) {
	if n < 0 || d < 0 {
		panic("kernels: negative matmul dimension")
	}
	if len(out) < d || len(x) < n || len(w) < n*d {
		panic("kernels: matmul shape mismatch")
	}
}

func checkRMSNorm(out, x, weight []float32) int {
	if len(out) < len(x) || len(weight) < len(x) {
		panic("kernels: rmsnorm length mismatch")
	}
	return len(x)
}

// rmsScale turns a sum of squares over n values into the normalisation factor.
func rmsScale(sumSquares float32, n int) float32 {
	mean := sumSquares / float32(n)
	return float32(1.0 / math.Sqrt(float64(mean)+RMSEpsilon))
}
