package depth

import (
	"context"
	"fmt"
	"math"
)

// minEdgeSamples is the fewest interior pixels a correlation is computed on.
const minEdgeSamples = 16

// sobel returns the gradient magnitude at interior pixels. Pixels whose 3x3
// neighborhood touches an invalid sample are left out of ok.
func sobel(ctx context.Context, g *grid, mask []bool) (mag []float64, ok []bool, err error) {
	mag = make([]float64, len(g.v))
	ok = make([]bool, len(g.v))
	for y := 1; y < g.h-1; y++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	pixel:
		for x := 1; x < g.w-1; x++ {
			if mask != nil {
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if !mask[(y+dy)*g.w+x+dx] {
							continue pixel
						}
					}
				}
			}
			gx := -g.at(x-1, y-1) - 2*g.at(x-1, y) - g.at(x-1, y+1) +
				g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1)
			gy := -g.at(x-1, y-1) - 2*g.at(x, y-1) - g.at(x+1, y-1) +
				g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1)
			i := y*g.w + x
			mag[i] = math.Hypot(gx, gy)
			ok[i] = true
		}
	}
	return mag, ok, nil
}

// edgeCoherence is the Pearson correlation between depth and luminance edge
// magnitudes, clamped to [0, 1]. It returns an error wrapping
// ErrInsufficientSignal when too few interior samples remain or either edge
// field is constant.
func edgeCoherence(ctx context.Context, depthG *grid, mask []bool, lum *grid) (float64, error) {
	dMag, dOK, err := sobel(ctx, depthG, mask)
	if err != nil {
		return 0, err
	}
	lMag, _, err := sobel(ctx, lum, nil)
	if err != nil {
		return 0, err
	}

	var n int
	var sumD, sumL float64
	for i, ok := range dOK {
		if ok {
			sumD += dMag[i]
			sumL += lMag[i]
			n++
		}
	}
	if n < minEdgeSamples {
		return 0, fmt.Errorf("%w: %d edge samples, need %d", ErrInsufficientSignal, n, minEdgeSamples)
	}
	meanD, meanL := sumD/float64(n), sumL/float64(n)

	var cov, varD, varL float64
	for i, ok := range dOK {
		if !ok {
			continue
		}
		a, b := dMag[i]-meanD, lMag[i]-meanL
		cov += a * b
		varD += a * a
		varL += b * b
	}
	switch {
	case varD == 0:
		return 0, fmt.Errorf("%w: depth has no edges", ErrInsufficientSignal)
	case varL == 0:
		return 0, fmt.Errorf("%w: image has no edges", ErrInsufficientSignal)
	}
	r := cov / math.Sqrt(varD*varL)
	return math.Max(0, math.Min(1, r)), nil
}
