// Package image canonicalizes IIIF image requests against the dimensions
// of a source image.
package image

import (
	"fmt"
	"sort"
	"strings"
)

// Quality is the color quality of a derivative.
type Quality string

// Supported qualities.
const (
	QualityDefault Quality = "default"
	QualityColor   Quality = "color"
	QualityGray    Quality = "gray"
	QualityBitonal Quality = "bitonal"
)

// ParseQuality validates a quality name.
func ParseQuality(quality string) (Quality, error) {
	switch q := Quality(quality); q {
	case QualityDefault, QualityColor, QualityGray, QualityBitonal:
		return q, nil
	}
	return "", syntaxError("quality", quality, "%s", fmt.Sprintf(qualityError, quality))
}

// Format is the output format of a derivative.
type Format string

// Supported formats.
const (
	FormatJPG  Format = "jpg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatTIF  Format = "tif"
)

var formatAliases = map[string]Format{
	"jpg":  FormatJPG,
	"jpeg": FormatJPG,
	"png":  FormatPNG,
	"gif":  FormatGIF,
	"webp": FormatWebP,
	"tif":  FormatTIF,
	"tiff": FormatTIF,
}

var mimeTypes = map[Format]string{
	FormatJPG:  "image/jpeg",
	FormatPNG:  "image/png",
	FormatGIF:  "image/gif",
	FormatWebP: "image/webp",
	FormatTIF:  "image/tiff",
}

// ParseFormat validates a format extension, jpeg and tiff are accepted as
// spellings of jpg and tif.
func ParseFormat(format string) (Format, error) {
	f, ok := formatAliases[strings.ToLower(format)]
	if !ok {
		return "", syntaxError("format", format, "%s", fmt.Sprintf(formatError, format))
	}
	return f, nil
}

// MIMEType returns the content type of the format.
func (f Format) MIMEType() string {
	return mimeTypes[f]
}

// Formats lists every output format.
func Formats() []Format {
	return []Format{FormatJPG, FormatPNG, FormatGIF, FormatWebP, FormatTIF}
}

// Tile describes the tiling of the image for a set of scale factors.
type Tile struct {
	Width int `json:"width"`
	// Height is only set when the tiles are not square.
	Height       int   `json:"height,omitempty"`
	ScaleFactors []int `json:"scaleFactors"`
}

// Size is an output size the server can produce cheaply.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata is what is known about a source image. It is built once from
// the codestream and never modified afterwards.
type Metadata struct {
	Identifier string    `json:"identifier"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Tiles      []Tile    `json:"tiles"`
	Qualities  []Quality `json:"qualities"`
	// ColorProfile is the embedded ICC profile, it is persisted on its own.
	ColorProfile []byte `json:"-"`
	SourcePath   string `json:"src_path"`
	SourceFormat string `json:"src_format"`
}

// Supports tells whether the image can be rendered in the given quality.
func (m *Metadata) Supports(q Quality) bool {
	for _, s := range m.Qualities {
		if s == q {
			return true
		}
	}
	return false
}

// NativeQuality is the quality "default" stands for.
func (m *Metadata) NativeQuality() Quality {
	switch {
	case m.Supports(QualityColor):
		return QualityColor
	case m.Supports(QualityGray):
		return QualityGray
	}
	return QualityDefault
}

// ScaleFactors returns every scale factor of every tile, ascending.
func (m *Metadata) ScaleFactors() []int {
	seen := make(map[int]bool)
	factors := make([]int, 0)
	for _, t := range m.Tiles {
		for _, f := range t.ScaleFactors {
			if !seen[f] {
				seen[f] = true
				factors = append(factors, f)
			}
		}
	}
	if len(factors) == 0 {
		factors = append(factors, 1)
	}
	sort.Ints(factors)
	return factors
}

// Sizes lists the image dimensions at every scale factor, smallest first.
func (m *Metadata) Sizes() []Size {
	factors := m.ScaleFactors()
	sizes := make([]Size, 0, len(factors))
	for _, f := range factors {
		sizes = append(sizes, Size{
			Width:  ceilDiv(m.Width, f),
			Height: ceilDiv(m.Height, f),
		})
	}
	sort.SliceStable(sizes, func(i, j int) bool {
		return maxInt(sizes[i].Width, sizes[i].Height) < maxInt(sizes[j].Width, sizes[j].Height)
	})
	return sizes
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
