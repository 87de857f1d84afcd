// Package display schedules waterfall renders and delivers them to display surfaces.
package display

import (
	"image"

	"golang.org/x/image/draw"
)

// Surface accepts rendered frames.
type Surface interface {
	Present(img image.Image) error
}

// SurfaceFunc adapts a function to a Surface.
type SurfaceFunc func(img image.Image) error

// Present implements Surface.
func (f SurfaceFunc) Present(img image.Image) error { return f(img) }

// Fit scales img to size, stretching each axis independently. A zero size, or one that
// already matches, returns img unchanged. Gray images stay gray.
func Fit(img image.Image, size image.Point) image.Image {
	b := img.Bounds()
	if size.X <= 0 || size.Y <= 0 || size == b.Size() {
		return img
	}
	r := image.Rect(0, 0, size.X, size.Y)
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(r)
	} else {
		dst = image.NewRGBA(r)
	}
	draw.NearestNeighbor.Scale(dst, r, img, b, draw.Src, nil)
	return dst
}
