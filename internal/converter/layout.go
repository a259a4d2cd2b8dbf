package converter

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidDimensions is returned when an image width or height is not positive.
	ErrInvalidDimensions = errors.New("image dimensions must be positive")
	// ErrInvalidRotation is returned for rotations other than 0, 90, 180 and 270.
	ErrInvalidRotation = errors.New("rotation must be 0, 90, 180 or 270 degrees")
	// ErrInvalidPage is returned when a page size is not positive.
	ErrInvalidPage = errors.New("page dimensions must be positive")
)

// PageSize is a page extent in points (1/72 inch).
type PageSize struct {
	Width  float64
	Height float64
}

// A4 is the ISO A4 portrait page rounded to whole points.
var A4 = PageSize{Width: 595, Height: 842}

// Box is an axis-aligned rectangle on the page, in points, with its origin at
// the top-left corner.
type Box struct {
	X, Y          float64
	Width, Height float64
}

// Placement describes how to draw an image onto a page.
//
// Width and Height are the drawn size in the image's own (unrotated) frame.
// (X, Y) is the corner of the image that the rotation pivots around; drawing
// the image there and rotating it clockwise by Rotation about that point lands
// it exactly on Box.
type Placement struct {
	X, Y          float64
	Width, Height float64
	Rotation      Rotation
	Scale         float64
	Box           Box
}

// Compose places an image of width x height pixels, rotated clockwise by
// rotation, on an A4 page.
func Compose(width, height int, rotation Rotation) (Placement, error) {
	return ComposeOn(A4, width, height, rotation)
}

// ComposeOn places an image of width x height pixels, rotated clockwise by
// rotation, centered and as large as possible on page without cropping.
func ComposeOn(page PageSize, width, height int, rotation Rotation) (Placement, error) {
	if page.Width <= 0 || page.Height <= 0 {
		return Placement{}, fmt.Errorf("%w: %gx%g", ErrInvalidPage, page.Width, page.Height)
	}
	if width <= 0 || height <= 0 {
		return Placement{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if !rotation.Valid() {
		return Placement{}, fmt.Errorf("%w: got %d", ErrInvalidRotation, rotation)
	}

	w, h := float64(width), float64(height)
	boxWidth, boxHeight := w, h
	if rotation.SwapsAxes() {
		boxWidth, boxHeight = h, w
	}

	scale := math.Min(page.Width/boxWidth, page.Height/boxHeight)
	drawWidth, drawHeight := w*scale, h*scale

	box := Box{Width: boxWidth * scale, Height: boxHeight * scale}
	box.X = (page.Width - box.Width) / 2
	box.Y = (page.Height - box.Height) / 2

	p := Placement{
		Width:    drawWidth,
		Height:   drawHeight,
		Rotation: rotation,
		Scale:    scale,
		Box:      box,
	}
	switch rotation {
	case Rotate0:
		p.X, p.Y = box.X, box.Y
	case Rotate90:
		p.X, p.Y = box.X+drawHeight, box.Y
	case Rotate180:
		p.X, p.Y = box.X+drawWidth, box.Y+drawHeight
	case Rotate270:
		p.X, p.Y = box.X, box.Y+drawWidth
	}
	return p, nil
}
