package depth

import (
	"context"
	"math"
	"math/bits"
)

// fft is an in-place iterative radix-2 Cooley-Tukey transform.
// len(re) must be a power of two.
func fft(re, im []float64) {
	n := len(re)
	if n < 2 {
		return
	}
	shift := 64 - bits.TrailingZeros(uint(n))
	for i := 0; i < n; i++ {
		j := int(bits.Reverse64(uint64(i)) >> shift)
		if j > i {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				wr, wi := math.Cos(step*float64(k)), math.Sin(step*float64(k))
				a, b := start+k, start+k+half
				tr := wr*re[b] - wi*im[b]
				ti := wr*im[b] + wi*re[b]
				re[b], im[b] = re[a]-tr, im[a]-ti
				re[a], im[a] = re[a]+tr, im[a]+ti
			}
		}
	}
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// periodicPeakRatio transforms a square luminance plane and returns the
// ratio of the strongest to the mean spectral magnitude in the mid and high
// frequency band (radius N/8 to N/2). Screen pixel grids and halftone
// patterns concentrate energy into a few isolated peaks there.
func periodicPeakRatio(ctx context.Context, lum *grid) (float64, error) {
	n := lum.w
	re := make([]float64, n*n)
	im := make([]float64, n*n)

	var mean float64
	for _, v := range lum.v {
		mean += v
	}
	mean /= float64(len(lum.v))

	hann := make([]float64, n)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			re[y*n+x] = (lum.at(x, y) - mean) * hann[x] * hann[y]
		}
	}

	for y := 0; y < n; y++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		fft(re[y*n:(y+1)*n], im[y*n:(y+1)*n])
	}
	colRe := make([]float64, n)
	colIm := make([]float64, n)
	for x := 0; x < n; x++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for y := 0; y < n; y++ {
			colRe[y], colIm[y] = re[y*n+x], im[y*n+x]
		}
		fft(colRe, colIm)
		for y := 0; y < n; y++ {
			re[y*n+x], im[y*n+x] = colRe[y], colIm[y]
		}
	}

	lo, hi := float64(n)/8, float64(n)/2
	var peak, sum float64
	var count int
	for ky := 0; ky < n; ky++ {
		fy := wrapFreq(ky, n)
		for kx := 0; kx < n; kx++ {
			r := math.Hypot(float64(wrapFreq(kx, n)), float64(fy))
			if r < lo || r > hi {
				continue
			}
			m := math.Hypot(re[ky*n+kx], im[ky*n+kx])
			sum += m
			count++
			if m > peak {
				peak = m
			}
		}
	}
	if count == 0 || sum == 0 {
		return 0, nil
	}
	return peak / (sum / float64(count)), nil
}

func wrapFreq(k, n int) int {
	if k > n/2 {
		return k - n
	}
	return k
}
