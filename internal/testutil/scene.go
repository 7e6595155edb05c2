package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
)

// SceneSize is the depth grid edge length of the synthetic scenes.
const SceneSize = 64

func sceneDepth(x, y int) float32 {
	inDisc := func(cx, cy, r float64) bool {
		dx, dy := float64(x)-cx, float64(y)-cy
		return dx*dx+dy*dy <= r*r
	}
	r := 0.18 * SceneSize
	switch {
	case inDisc(0.3*SceneSize, 0.4*SceneSize, r):
		return 1.0
	case inDisc(0.7*SceneSize, 0.6*SceneSize, r):
		return 2.0
	default:
		return 5.0
	}
}

// RealScene returns two discs in front of a wall as a depth map plus a
// double-resolution image whose luminance follows depth. It passes the
// default scene analysis.
func RealScene() (*depth.Map, *image.Gray16) {
	m := depth.NewMap(SceneSize, SceneSize)
	for y := 0; y < SceneSize; y++ {
		for x := 0; x < SceneSize; x++ {
			m.Set(x, y, sceneDepth(x, y))
		}
	}
	img := image.NewGray16(image.Rect(0, 0, 2*SceneSize, 2*SceneSize))
	for y := 0; y < 2*SceneSize; y++ {
		for x := 0; x < 2*SceneSize; x++ {
			d := float64(m.At(x/2, y/2))
			img.SetGray16(x, y, color.Gray16{Y: uint16((240 - 30*d) * 257)})
		}
	}
	return m, img
}

// FlatScene returns a depth map of a single plane at d, as seen when
// photographing a screen.
func FlatScene(d float32) *depth.Map {
	m := depth.NewMap(SceneSize, SceneSize)
	for i := range m.Samples {
		m.Samples[i] = d
	}
	return m
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
