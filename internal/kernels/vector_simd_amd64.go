//go:build amd64 && goexperiment.simd

package kernels

import "simd/archsimd"

const vectorName = "avx2"

func hsum(v archsimd.Float32x8) float32 {
	var tmp [8]float32
	v.Store(&tmp)
	return tmp[0] + tmp[1] + tmp[2] + tmp[3] + tmp[4] + tmp[5] + tmp[6] + tmp[7]
}

func dotVector(a, b []float32) float32 {
	n := checkDot(a, b)
	if n < Width {
		return dotScalar(a, b)
	}
	var acc archsimd.Float32x8
	i := 0
	for ; i+Width <= n; i += Width {
		va := archsimd.LoadFloat32x8Slice(a[i:])
		vb := archsimd.LoadFloat32x8Slice(b[i:])
		acc = va.MulAdd(vb, acc)
	}
	sum := hsum(acc)
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func axpyVector(dst, src []float32, alpha float32) {
	n := checkAxpy(dst, src)
	if n < Width {
		axpyScalar(dst, src, alpha)
		return
	}
	valpha := archsimd.BroadcastFloat32x8(alpha)
	i := 0
	for ; i+Width <= n; i += Width {
		vd := archsimd.LoadFloat32x8Slice(dst[i:])
		vs := archsimd.LoadFloat32x8Slice(src[i:])
		vd = vs.MulAdd(valpha, vd)
		vd.StoreSlice(dst[i:])
	}
	for ; i < n; i++ {
		dst[i] += alpha * src[i]
	}
}

func matMulVector(out, x, w []float32, n, d int) {
	checkMatMul(out, x, w, n, d)
	if n < Width {
		matMulScalar(out, x, w, n, d)
		return
	}
	for r := 0; r < d; r++ {
		row := w[r*n : r*n+n]
		var acc0, acc1, acc2, acc3 archsimd.Float32x8
		j := 0
		for ; j+4*Width <= n; j += 4 * Width {
			acc0 = archsimd.LoadFloat32x8Slice(row[j:]).MulAdd(archsimd.LoadFloat32x8Slice(x[j:]), acc0)
			acc1 = archsimd.LoadFloat32x8Slice(row[j+Width:]).MulAdd(archsimd.LoadFloat32x8Slice(x[j+Width:]), acc1)
			acc2 = archsimd.LoadFloat32x8Slice(row[j+2*Width:]).MulAdd(archsimd.LoadFloat32x8Slice(x[j+2*Width:]), acc2)
			acc3 = archsimd.LoadFloat32x8Slice(row[j+3*Width:]).MulAdd(archsimd.LoadFloat32x8Slice(x[j+3*Width:]), acc3)
		}
		for ; j+Width <= n; j += Width {
			acc0 = archsimd.LoadFloat32x8Slice(row[j:]).MulAdd(archsimd.LoadFloat32x8Slice(x[j:]), acc0)
		}
		sum := hsum(acc0.Add(acc1).Add(acc2.Add(acc3)))
		for ; j < n; j++ {
			sum += row[j] * x[j]
		}
		out[r] = sum
	}
}

func rmsNormVector(out, x, weight []float32) {
	n := checkRMSNorm(out, x, weight)
	if n < Width {
		rmsNormScalar(out, x, weight)
		return
	}
	var acc0, acc1 archsimd.Float32x8
	i := 0
	for ; i+2*Width <= n; i += 2 * Width {
		v0 := archsimd.LoadFloat32x8Slice(x[i:])
		v1 := archsimd.LoadFloat32x8Slice(x[i+Width:])
		acc0 = v0.MulAdd(v0, acc0)
		acc1 = v1.MulAdd(v1, acc1)
	}
	for ; i+Width <= n; i += Width {
		v := archsimd.LoadFloat32x8Slice(x[i:])
		acc0 = v.MulAdd(v, acc0)
	}
	sum := hsum(acc0.Add(acc1))
	for ; i < n; i++ {
		sum += x[i] * x[i]
	}
	scale := rmsScale(sum, n)
	vscale := archsimd.BroadcastFloat32x8(scale)
	i = 0
	for ; i+Width <= n; i += Width {
		vx := archsimd.LoadFloat32x8Slice(x[i:])
		vw := archsimd.LoadFloat32x8Slice(weight[i:])
		vw.Mul(vx.Mul(vscale)).StoreSlice(out[i:])
	}
	for ; i < n; i++ {
		out[i] = weight[i] * (scale * x[i])
	}
}
