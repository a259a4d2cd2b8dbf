package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
	xdraw "golang.org/x/image/draw"
)

// bufferPool is used to reuse byte buffers for PNG re-encoding.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// ErrUnsupportedFormat is returned when the image is neither JPEG nor PNG.
var ErrUnsupportedFormat = errors.New("unsupported image format, expected JPEG or PNG")

// ErrEmptyImage is returned when no image bytes are provided.
var ErrEmptyImage = errors.New("image data is empty")

// Format is a supported raster encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// pdfImageType returns the image type string gofpdf expects.
func (f Format) pdfImageType() string {
	if f == FormatPNG {
		return "PNG"
	}
	return "JPG"
}

// SourceImage is an uploaded image with its decoded header information.
type SourceImage struct {
	Data   []byte
	Width  int
	Height int
	Format Format
}

// Config holds configuration for the conversion process.
type Config struct {
	Page       PageSize // Page size in points, A4 portrait by default
	AutoRotate bool     // Honour the EXIF orientation tag
	Title      string   // Document title metadata, optional
	Creator    string   // Document creator metadata
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Page:       A4,
		AutoRotate: true,
		Creator:    "photo_to_pdf",
	}
}

// Result describes a finished conversion.
type Result struct {
	Format    Format
	Width     int      // Source width in pixels
	Height    int      // Source height in pixels
	Hint      Rotation // Rotation requested by the image metadata
	Rotation  Rotation // Rotation actually applied
	Placement Placement
	Size      int64 // Bytes written
}

// DecodeSource detects the encoding of data and reads its pixel dimensions.
func DecodeSource(data []byte) (SourceImage, error) {
	if len(data) == 0 {
		return SourceImage{}, ErrEmptyImage
	}

	imgConfig, formatName, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return SourceImage{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	var format Format
	switch formatName {
	case "jpeg":
		format = FormatJPEG
	case "png":
		format = FormatPNG
	default:
		return SourceImage{}, fmt.Errorf("%w: detected %q", ErrUnsupportedFormat, formatName)
	}

	if imgConfig.Width <= 0 || imgConfig.Height <= 0 {
		return SourceImage{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, imgConfig.Width, imgConfig.Height)
	}

	return SourceImage{
		Data:   data,
		Width:  imgConfig.Width,
		Height: imgConfig.Height,
		Format: format,
	}, nil
}

// pngNeedsNormalizing reports whether a PNG uses features the PDF writer
// cannot embed directly: 16-bit samples or Adam7 interlacing.
func pngNeedsNormalizing(data []byte) bool {
	// IHDR data starts at byte 16: width(4) height(4) depth(1) color(1)
	// compression(1) filter(1) interlace(1).
	if len(data) < 29 {
		return false
	}
	return data[24] == 16 || data[28] != 0
}

// normalizePNG re-encodes a PNG as 8-bit, non-interlaced NRGBA.
// The returned buffer comes from bufferPool.
func normalizePNG(data []byte) (*bytes.Buffer, error) {
	decodedImg, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode png: %w", err)
	}

	switch decodedImg.(type) {
	case *image.Gray16, *image.NRGBA64, *image.RGBA64:
		decodedImg = imaging.Clone(decodedImg)
	}

	bounds := decodedImg.Bounds()
	finalImg := image.NewNRGBA(bounds)
	xdraw.Draw(finalImg, bounds, decodedImg, bounds.Min, xdraw.Src)

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	if err := imaging.Encode(buf, finalImg, imaging.PNG); err != nil {
		bufferPool.Put(buf)
		return nil, fmt.Errorf("could not re-encode png: %w", err)
	}
	return buf, nil
}

// countingWriter tracks the number of bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// drawPDF renders src onto a single page according to placement and writes the
// document to writer.
func drawPDF(cfg *Config, src SourceImage, imageData io.Reader, placement Placement, writer io.Writer) error {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: cfg.Page.Width, Ht: cfg.Page.Height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	if cfg.Creator != "" {
		pdf.SetCreator(cfg.Creator, true)
	}
	if cfg.Title != "" {
		pdf.SetTitle(cfg.Title, true)
	}
	pdf.AddPage()

	options := gofpdf.ImageOptions{ImageType: src.Format.pdfImageType(), ReadDpi: false}
	pdf.RegisterImageOptionsReader("photo", options, imageData)
	if pdf.Err() {
		return fmt.Errorf("could not register image: %w", pdf.Error())
	}

	// gofpdf rotates counter-clockwise; placement assumes a clockwise turn
	// about the image's top-left corner.
	pdf.TransformBegin()
	if placement.Rotation != Rotate0 {
		pdf.TransformRotate(-float64(placement.Rotation), placement.X, placement.Y)
	}
	pdf.ImageOptions("photo", placement.X, placement.Y, placement.Width, placement.Height, false, options, 0, "")
	pdf.TransformEnd()

	if pdf.Err() {
		return fmt.Errorf("error generating PDF structure: %w", pdf.Error())
	}
	if err := pdf.Output(writer); err != nil {
		return fmt.Errorf("could not write PDF to writer: %w", err)
	}
	return nil
}

// ConvertToPDF is the main entry point for the converter package.
// It decodes data, resolves its orientation, and writes a single-page PDF with
// the image upright, centered and scaled to fit cfg.Page.
func ConvertToPDF(ctx context.Context, data []byte, cfg *Config, writer io.Writer) (*Result, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := DecodeSource(data)
	if err != nil {
		return nil, err
	}
	slog.Debug("Decoded image header", "format", src.Format, "width", src.Width, "height", src.Height, "bytes", len(data))

	hint := Rotate0
	if cfg.AutoRotate {
		hint = OrientationHint(src.Data)
	}
	rotation := CorrectForPortrait(hint, src.Width, src.Height)

	placement, err := ComposeOn(cfg.Page, src.Width, src.Height, rotation)
	if err != nil {
		return nil, err
	}
	slog.Debug("Computed placement", "hint", hint, "rotation", rotation, "scale", placement.Scale,
		"x", placement.X, "y", placement.Y, "width", placement.Width, "height", placement.Height)

	var imageData io.Reader = bytes.NewReader(src.Data)
	if src.Format == FormatPNG && pngNeedsNormalizing(src.Data) {
		slog.Debug("Normalizing PNG to 8-bit non-interlaced", "width", src.Width, "height", src.Height)
		buf, err := normalizePNG(src.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		defer bufferPool.Put(buf)
		imageData = buf
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cw := &countingWriter{w: writer}
	if err := drawPDF(cfg, src, imageData, placement, cw); err != nil {
		return nil, err
	}

	return &Result{
		Format:    src.Format,
		Width:     src.Width,
		Height:    src.Height,
		Hint:      hint,
		Rotation:  rotation,
		Placement: placement,
		Size:      cw.n,
	}, nil
}
