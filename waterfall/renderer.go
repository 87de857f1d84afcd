// Package waterfall keeps the scrolling intensity image shown for the selected stream.
package waterfall

import (
	"errors"
	"image"

	"github.com/golang/glog"

	"github.com/peragwin/dasview/util"
)

// ErrShape is returned by Push for grids that do not match the buffer width or are empty.
var ErrShape = errors.New("grid does not fit the waterfall")

// DefaultHeight is the number of rows kept when no height is configured.
const DefaultHeight = 600

// Renderer owns a fixed height buffer of 8-bit intensity. New rows enter at the bottom
// and the oldest rows leave at the top, so row 0 is the oldest.
type Renderer struct {
	height int
	buf    *image.Gray
}

// NewRenderer creates a renderer keeping height rows. Width is set by Ensure.
func NewRenderer(height int) *Renderer {
	if height < 1 {
		height = DefaultHeight
	}
	return &Renderer{height: height}
}

// Height returns the number of rows in the buffer.
func (r *Renderer) Height() int { return r.height }

// Width returns the current buffer width, or 0 before the first Ensure.
func (r *Renderer) Width() int {
	if r.buf == nil {
		return 0
	}
	return r.buf.Rect.Dx()
}

// Ensure reallocates a zeroed buffer if width differs from the current one. History is
// lost on reallocation. Non-positive widths are ignored. It reports whether the buffer
// was reallocated.
func (r *Renderer) Ensure(width int) bool {
	if width <= 0 || width == r.Width() {
		return false
	}
	if r.buf != nil {
		glog.Infof("waterfall width changed %d -> %d, clearing history", r.Width(), width)
	}
	r.buf = image.NewGray(image.Rect(0, 0, width, r.height))
	return true
}

// Reset zeroes the buffer, keeping its width.
func (r *Renderer) Reset() {
	if r.buf == nil {
		return
	}
	for i := range r.buf.Pix {
		r.buf.Pix[i] = 0
	}
}

// Push appends the rows of g at the bottom of the buffer, scrolling older rows up. If g has
// at least Height rows only its last Height rows are kept.
func (r *Renderer) Push(g *image.Gray) error {
	if r.buf == nil || g == nil {
		return ErrShape
	}
	w := r.Width()
	n := g.Rect.Dy()
	if g.Rect.Dx() != w || n < 1 {
		return ErrShape
	}

	if n >= r.height {
		for i := 0; i < r.height; i++ {
			copy(r.row(i), grayRow(g, n-r.height+i))
		}
		return nil
	}

	// scroll up by n rows; rows are contiguous in Pix since the buffer stride is its width
	copy(r.buf.Pix[:(r.height-n)*w], r.buf.Pix[n*w:])
	for i := 0; i < n; i++ {
		copy(r.row(r.height-n+i), grayRow(g, i))
	}
	return nil
}

func (r *Renderer) row(i int) []uint8 {
	off := i * r.buf.Stride
	return r.buf.Pix[off : off+r.buf.Rect.Dx()]
}

func grayRow(g *image.Gray, i int) []uint8 {
	off := g.PixOffset(g.Rect.Min.X, g.Rect.Min.Y+i)
	return g.Pix[off : off+g.Rect.Dx()]
}

// Row returns a copy of buffer row i.
func (r *Renderer) Row(i int) []uint8 {
	if r.buf == nil {
		return nil
	}
	return append([]uint8(nil), r.row(i)...)
}

// Render returns a snapshot of the buffer for display. With a nil palette the snapshot is
// grayscale, otherwise every intensity is looked up in the palette.
func (r *Renderer) Render(p *util.Palette) image.Image {
	if r.buf == nil {
		return nil
	}
	if p == nil {
		out := image.NewGray(r.buf.Rect)
		copy(out.Pix, r.buf.Pix)
		return out
	}
	out := image.NewRGBA(r.buf.Rect)
	for i, v := range r.buf.Pix {
		c := p[v]
		o := 4 * i
		out.Pix[o] = c.R
		out.Pix[o+1] = c.G
		out.Pix[o+2] = c.B
		out.Pix[o+3] = c.A
	}
	return out
}
