package converter

import (
	"bytes"
	"encoding/binary"
	"log/slog"

	"github.com/rwcarlsen/goexif/exif"
)

// Rotation is a clockwise rotation in degrees. Valid values are 0, 90, 180 and 270.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Valid reports whether r is one of the four quarter turns.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// SwapsAxes reports whether rotating by r exchanges width and height.
func (r Rotation) SwapsAxes() bool {
	return r == Rotate90 || r == Rotate270
}

// Add returns r rotated further by o, normalized to [0, 360).
func (r Rotation) Add(o Rotation) Rotation {
	return Rotation(((int(r)+int(o))%360 + 360) % 360)
}

// RotationFromOrientation maps an EXIF orientation tag to a clockwise rotation.
//
// Mirrored orientations (2, 4, 5, 7) are not distinguished and map to Rotate0,
// as do unknown values.
func RotationFromOrientation(tag int) Rotation {
	switch tag {
	case 3:
		return Rotate180
	case 6:
		return Rotate90
	case 8:
		return Rotate270
	default:
		return Rotate0
	}
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngExif returns the TIFF payload of the first eXIf chunk in a PNG stream,
// or nil when there is none.
func pngExif(data []byte) []byte {
	for p := len(pngSignature); p+8 <= len(data); {
		n := int64(binary.BigEndian.Uint32(data[p:]))
		start := p + 8
		if n > int64(len(data)-start-4) {
			return nil
		}
		end := start + int(n)
		switch string(data[p+4 : start]) {
		case "eXIf":
			return data[start:end]
		case "IEND":
			return nil
		}
		p = end + 4 // skip CRC
	}
	return nil
}

// OrientationHint reads the EXIF orientation tag from data and returns the
// rotation it asks for. JPEG APP1 segments and PNG eXIf chunks are read.
// Missing or unreadable metadata yields Rotate0.
func OrientationHint(data []byte) (hint Rotation) {
	if bytes.HasPrefix(data, pngSignature) {
		data = pngExif(data)
	}
	if len(data) == 0 {
		return Rotate0
	}
	// goexif can panic on malformed TIFF structures.
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("EXIF decoder panicked, assuming upright image", "panic", r)
			hint = Rotate0
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		slog.Debug("No usable EXIF data, assuming upright image", "error", err)
		return Rotate0
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		slog.Debug("EXIF orientation tag not present", "error", err)
		return Rotate0
	}
	orientation, err := tag.Int(0)
	if err != nil {
		slog.Debug("EXIF orientation tag unreadable", "error", err)
		return Rotate0
	}

	return RotationFromOrientation(orientation)
}

// CorrectForPortrait adds a quarter turn to hint when the image, once the hint
// is applied, would still be wider than it is tall.
func CorrectForPortrait(hint Rotation, width, height int) Rotation {
	if !hint.Valid() {
		hint = Rotate0
	}
	displayWidth, displayHeight := width, height
	if hint.SwapsAxes() {
		displayWidth, displayHeight = height, width
	}
	if displayWidth > displayHeight {
		return hint.Add(Rotate90)
	}
	return hint
}

// ResolveRotation returns the clockwise rotation that presents the image in
// data upright on a portrait page. width and height are the raw pixel
// dimensions of the decoded image.
func ResolveRotation(data []byte, width, height int) Rotation {
	return CorrectForPortrait(OrientationHint(data), width, height)
}
