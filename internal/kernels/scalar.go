package kernels

func dotScalar(a, b []float32) float32 {
	n := checkDot(a, b)
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func axpyScalar(dst, src []float32, alpha float32) {
	n := checkAxpy(dst, src)
	for i := 0; i < n; i++ {
		dst[i] += alpha * src[i]
	}
}

// matMulScalar keeps four independent partial sums per row so consecutive
// multiply-adds do not wait on each other.
func matMulScalar(out, x, w []float32, n, d int) {
	checkMatMul(out, x, w, n, d)
	for r := 0; r < d; r++ {
		row := w[r*n : r*n+n]
		var s0, s1, s2, s3 float32
		j := 0
		for ; j+3 < n; j += 4 {
			s0 += row[j] * x[j]
			s1 += row[j+1] * x[j+1]
			s2 += row[j+2] * x[j+2]
			s3 += row[j+3] * x[j+3]
		}
		sum := (s0 + s1) + (s2 + s3)
		for ; j < n; j++ {
			sum += row[j] * x[j]
		}
		out[r] = sum
	}
}

func rmsNormScalar(out, x, weight []float32) {
	n := checkRMSNorm(out, x, weight)
	if n == 0 {
		return
	}
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+3 < n; i += 4 {
		s0 += x[i] * x[i]
		s1 += x[i+1] * x[i+1]
		s2 += x[i+2] * x[i+2]
		s3 += x[i+3] * x[i+3]
	}
	sum := (s0 + s1) + (s2 + s3)
	for ; i < n; i++ {
		sum += x[i] * x[i]
	}
	scale := rmsScale(sum, n)
	for i := 0; i < n; i++ {
		out[i] = weight[i] * (scale * x[i])
	}
}
