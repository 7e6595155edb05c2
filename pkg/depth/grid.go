package depth

import (
	"context"
	"image"
	"math"
)

// grid is a row-major float64 plane used for intermediate signals.
type grid struct {
	w, h int
	v    []float64
}

func newGrid(w, h int) *grid {
	return &grid{w: w, h: h, v: make([]float64, w*h)}
}

func (g *grid) at(x, y int) float64 { return g.v[y*g.w+x] }

// validMask marks samples that are finite and inside [minDepth, maxDepth].
func validMask(m *Map, minDepth, maxDepth float64) []bool {
	mask := make([]bool, len(m.Samples))
	for i, s := range m.Samples {
		v := float64(s)
		mask[i] = !math.IsNaN(v) && !math.IsInf(v, 0) && v >= minDepth && v <= maxDepth
	}
	return mask
}

// depthGrid widens m to float64.
func depthGrid(m *Map) *grid {
	g := newGrid(m.Width, m.Height)
	for i, s := range m.Samples {
		g.v[i] = float64(s)
	}
	return g
}

// luminanceGrid samples img onto a w x h grid using the pixel nearest to
// each cell center. Luminance is Rec. 601 luma in [0, 255].
func luminanceGrid(ctx context.Context, img image.Image, w, h int) (*grid, error) {
	b := img.Bounds()
	g := newGrid(w, h)
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sy := b.Min.Y + int((float64(y)+0.5)*float64(b.Dy())/float64(h))
		for x := 0; x < w; x++ {
			sx := b.Min.X + int((float64(x)+0.5)*float64(b.Dx())/float64(w))
			r, gr, bl, _ := img.At(sx, sy).RGBA()
			g.v[y*w+x] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257
		}
	}
	return g, nil
}
