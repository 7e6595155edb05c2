package depth

import "math"

// meanStdDev returns the population mean and standard deviation of the
// samples selected by mask.
func meanStdDev(values []float64, mask []bool) (mean, stddev float64, n int) {
	var sum float64
	for i, v := range values {
		if mask[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)

	var sq float64
	for i, v := range values {
		if mask[i] {
			d := v - mean
			sq += d * d
		}
	}
	return mean, math.Sqrt(sq / float64(n)), n
}

// countLayers builds a histogram of valid depths over [minDepth, maxDepth]
// and counts how many times bin density rises above noiseFloor (a fraction
// of valid samples) after a trough. The range start counts as a trough.
func countLayers(values []float64, mask []bool, minDepth, maxDepth float64, bins int, noiseFloor float64) int {
	if bins <= 0 || maxDepth <= minDepth {
		return 0
	}
	hist := make([]int, bins)
	n := 0
	width := (maxDepth - minDepth) / float64(bins)
	for i, v := range values {
		if !mask[i] {
			continue
		}
		b := int((v - minDepth) / width)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
		n++
	}
	if n == 0 {
		return 0
	}

	threshold := noiseFloor * float64(n)
	layers := 0
	inLayer := false
	for _, c := range hist {
		above := float64(c) > threshold
		if above && !inLayer {
			layers++
		}
		inLayer = above
	}
	return layers
}

// quadrantUniformity returns the coefficient of variation of the depth
// variance in each image quadrant. Flat recaptures score near zero. ok is
// false when fewer than two quadrants hold samples or every quadrant is
// constant.
func quadrantUniformity(g *grid, mask []bool) (cv float64, ok bool) {
	hw, hh := g.w/2, g.h/2
	bounds := [4][4]int{
		{0, 0, hw, hh},
		{hw, 0, g.w, hh},
		{0, hh, hw, g.h},
		{hw, hh, g.w, g.h},
	}

	var variances []float64
	for _, q := range bounds {
		var vals []float64
		for y := q[1]; y < q[3]; y++ {
			for x := q[0]; x < q[2]; x++ {
				if i := y*g.w + x; mask[i] {
					vals = append(vals, g.v[i])
				}
			}
		}
		if len(vals) == 0 {
			continue
		}
		_, sd := populationStats(vals)
		variances = append(variances, sd*sd)
	}
	if len(variances) < 2 {
		return 0, false
	}

	mean, sd := populationStats(variances)
	if mean == 0 {
		return 0, false
	}
	return sd / mean, true
}

func populationStats(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
