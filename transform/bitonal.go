package transform

import (
	"bytes"
	"fmt"
	goimage "image"
	"image/color"
	_ "image/jpeg" // decoders
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // decoder
	_ "golang.org/x/image/webp" // decoder

	"github.com/greut/jp2iiif/config"
)

var blackAndWhite = color.Palette{color.Black, color.White}

// Bitonal reduces an image to black and white pixels, encoded as PNG.
// Floyd-Steinberg diffuses the error to the neighbouring pixels, the
// threshold picks the closest of the two colors.
func Bitonal(data []byte, dither string) ([]byte, error) {
	src, _, err := goimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	gray := goimage.NewGray(b)
	draw.Draw(gray, b, src, b.Min, draw.Src)

	dst := goimage.NewPaletted(b, blackAndWhite)
	switch dither {
	case config.DitherFloydSteinberg, "":
		draw.FloydSteinberg.Draw(dst, b, gray, b.Min)
	case config.DitherThreshold:
		draw.Draw(dst, b, gray, b.Min, draw.Src)
	default:
		return nil, fmt.Errorf("unknown dithering %#v", dither)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
