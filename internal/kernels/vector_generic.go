//go:build !(amd64 && goexperiment.simd)

package kernels

// Without GOEXPERIMENT=simd there is no portable way to emit vector
// instructions, so the vector path is written over fixed eight-lane arrays.
// It keeps the lane-wise accumulation order of the archsimd version, which
// lets the compiler keep each lane in its own register.

const vectorName = "vec8"

type lanes [Width]float32

func (l *lanes) sum() float32 {
	return l[0] + l[1] + l[2] + l[3] + l[4] + l[5] + l[6] + l[7]
}

func (l *lanes) add(o *lanes) {
	for k := range l {
		l[k] += o[k]
	}
}

func load(s []float32, i int) *lanes {
	return (*lanes)(s[i : i+Width])
}

func dotVector(a, b []float32) float32 {
	n := checkDot(a, b)
	if n < Width {
		return dotScalar(a, b)
	}
	var acc lanes
	i := 0
	for ; i+Width <= n; i += Width {
		va, vb := load(a, i), load(b, i)
		for k := range acc {
			acc[k] += va[k] * vb[k]
		}
	}
	sum := acc.sum()
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
	i := 0
	for ; i+Width <= n; i += Width {
		vd, vs := load(dst, i), load(src, i)
		for k := range vd {
			vd[k] += alpha * vs[k]
		}
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
		var acc0, acc1, acc2, acc3 lanes
		j := 0
		for ; j+4*Width <= n; j += 4 * Width {
			w0, x0 := load(row, j), load(x, j)
			w1, x1 := load(row, j+Width), load(x, j+Width)
			w2, x2 := load(row, j+2*Width), load(x, j+2*Width)
			w3, x3 := load(row, j+3*Width), load(x, j+3*Width)
			for k := range acc0 {
				acc0[k] += w0[k] * x0[k]
				acc1[k] += w1[k] * x1[k]
				acc2[k] += w2[k] * x2[k]
				acc3[k] += w3[k] * x3[k]
			}
		}
		for ; j+Width <= n; j += Width {
			wv, xv := load(row, j), load(x, j)
			for k := range acc0 {
				acc0[k] += wv[k] * xv[k]
			}
		}
		acc0.add(&acc1)
		acc2.add(&acc3)
		acc0.add(&acc2)
		sum := acc0.sum()
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
	var acc0, acc1 lanes
	i := 0
	for ; i+2*Width <= n; i += 2 * Width {
		v0, v1 := load(x, i), load(x, i+Width)
		for k := range acc0 {
			acc0[k] += v0[k] * v0[k]
			acc1[k] += v1[k] * v1[k]
		}
	}
	for ; i+Width <= n; i += Width {
		v := load(x, i)
		for k := range acc0 {
			acc0[k] += v[k] * v[k]
		}
	}
	acc0.add(&acc1)
	sum := acc0.sum()
	for ; i < n; i++ {
		sum += x[i] * x[i]
	}
	scale := rmsScale(sum, n)
	i = 0
	for ; i+Width <= n; i += Width {
		vo, vx, vw := load(out, i), load(x, i), load(weight, i)
		for k := range vo {
			vo[k] = vw[k] * (scale * vx[k])
		}
	}
	for ; i < n; i++ {
		out[i] = weight[i] * (scale * x[i])
	}
}
