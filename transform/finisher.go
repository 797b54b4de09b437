package transform

import (
	"bytes"
	"fmt"
	goimage "image"
	"image/gif"
	"log/slog"

	"gopkg.in/h2non/bimg.v1"

	"github.com/greut/jp2iiif/config"
	"github.com/greut/jp2iiif/image"
)

// Operation is what remains to be done on a decoded bitmap.
type Operation struct {
	// Crop is set when the bitmap holds more than the region, X, Y, W and
	// H are then in bitmap pixels.
	Crop       bool
	X, Y, W, H int
	Width      int
	Height     int
	Mirror     bool
	Angle      int
	Quality    image.Quality
	Format     image.Format
	// Profile is the embedded ICC profile of the source.
	Profile []byte
}

// Finisher crops, resizes, rotates, converts and encodes a bitmap.
type Finisher interface {
	Finish(bmp *Bitmap, op Operation) ([]byte, error)
}

var imageTypes = map[image.Format]bimg.ImageType{
	image.FormatJPG:  bimg.JPEG,
	image.FormatPNG:  bimg.PNG,
	image.FormatGIF:  bimg.GIF,
	image.FormatWebP: bimg.WEBP,
	image.FormatTIF:  bimg.TIFF,
}

// VipsFinisher finishes the images with libvips.
type VipsFinisher struct {
	outputICC   string
	dither      string
	jpegQuality int
	webpQuality int
	logger      *slog.Logger
}

// NewVipsFinisher creates a finisher from the transform configuration.
func NewVipsFinisher(cfg config.Transform, logger *slog.Logger) *VipsFinisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VipsFinisher{
		outputICC:   cfg.OutputICC,
		dither:      cfg.Dither,
		jpegQuality: cfg.JPEGQuality,
		webpQuality: cfg.WebPQuality,
		logger:      logger.With("component", "finisher"),
	}
}

// CanEncode tells whether the format can be produced.
func (f *VipsFinisher) CanEncode(format image.Format) bool {
	t, ok := imageTypes[format]
	if !ok {
		return false
	}
	// gif is encoded by the standard library when libvips cannot
	return format == image.FormatGIF || bimg.IsTypeSupportedSave(t)
}

func finishError(op string, err error) error {
	return &TransformError{Op: op, Err: err}
}

// Finish implements Finisher.
func (f *VipsFinisher) Finish(bmp *Bitmap, op Operation) ([]byte, error) {
	if !f.CanEncode(op.Format) {
		return nil, finishError("encode", fmt.Errorf("%w %#v", ErrUnsupportedFormat, op.Format))
	}

	img := bimg.NewImage(bmp.Data)
	size, err := img.Size()
	if err != nil {
		return nil, finishError("load", err)
	}

	if op.Crop {
		x, y := min(op.X, size.Width-1), min(op.Y, size.Height-1)
		w, h := min(op.W, size.Width-x), min(op.H, size.Height-y)
		if _, err := img.Extract(y, x, w, h); err != nil {
			return nil, finishError("crop", err)
		}
		size = bimg.ImageSize{Width: w, Height: h}
	}

	if size.Width != op.Width || size.Height != op.Height {
		if _, err := img.Process(bimg.Options{Width: op.Width, Height: op.Height, Force: true}); err != nil {
			return nil, finishError("resize", err)
		}
	}

	if op.Mirror {
		if _, err := img.Flop(); err != nil {
			return nil, finishError("mirror", err)
		}
	}

	if op.Angle != 0 {
		if _, err := img.Rotate(bimg.Angle(op.Angle)); err != nil {
			return nil, finishError("rotate", err)
		}
	}

	if f.outputICC != "" && len(op.Profile) > 0 {
		if _, err := img.Process(bimg.Options{OutputICC: f.outputICC}); err != nil {
			f.logger.Warn("color profile conversion failed", "profile", f.outputICC, "error", err)
		}
	}

	switch op.Quality {
	case image.QualityGray:
		if _, err := img.Colourspace(bimg.InterpretationBW); err != nil {
			return nil, finishError("gray", err)
		}
	case image.QualityBitonal:
		png, err := img.Convert(bimg.PNG)
		if err != nil {
			return nil, finishError("bitonal", err)
		}
		data, err := Bitonal(png, f.dither)
		if err != nil {
			return nil, finishError("bitonal", err)
		}
		img = bimg.NewImage(data)
	}

	if op.Format == image.FormatGIF && !bimg.IsTypeSupportedSave(bimg.GIF) {
		return f.encodeGIF(img)
	}

	opts := bimg.Options{Type: imageTypes[op.Format]}
	switch op.Format {
	case image.FormatJPG:
		opts.Quality = f.jpegQuality
	case image.FormatWebP:
		opts.Quality = f.webpQuality
	}

	buf, err := img.Process(opts)
	if err != nil {
		return nil, finishError("encode", err)
	}
	return buf, nil
}

func (f *VipsFinisher) encodeGIF(img *bimg.Image) ([]byte, error) {
	png, err := img.Convert(bimg.PNG)
	if err != nil {
		return nil, finishError("encode", err)
	}

	src, _, err := goimage.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, finishError("encode", err)
	}

	var buf bytes.Buffer
	if err := gif.Encode(&buf, src, &gif.Options{NumColors: 256}); err != nil {
		return nil, finishError("encode", err)
	}
	return buf.Bytes(), nil
}
