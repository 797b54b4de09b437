// Package jp2 reads the structural metadata of a JPEG 2000 (JP2) file
// without decoding it: dimensions, tiling, resolution levels and the
// embedded color profile.
package jp2

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
)

// Qualities as advertised by an image.
const (
	QualityDefault = "default"
	QualityColor   = "color"
	QualityGray    = "gray"
	QualityBitonal = "bitonal"
)

// DefaultMaxProfileSize bounds the embedded ICC profile read into memory.
const DefaultMaxProfileSize = 16 << 20

const (
	ihdrLength = 22
	// ICC profile header
	iccHeaderSize = 128
)

// Enumerated colorspaces (ISO/IEC 15444-1 I.5.3.3).
const (
	csSRGB      = 16
	csGreyscale = 17
	csSYCC      = 18
)

// Codestream markers.
const (
	markerSOC = 0xFF4F
	markerSIZ = 0xFF51
	markerCOD = 0xFF52
	markerSOT = 0xFF90
	markerSOD = 0xFF93
	markerEOC = 0xFFD9
)

var (
	signature  = []byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	brandJP2   = []byte("jp2 ")
	boxFTYP    = []byte("ftyp")
	boxJP2H    = []byte("jp2h")
	boxIHDR    = []byte("ihdr")
	boxCOLR    = []byte("colr")
	soc        = []byte{0xFF, 0x4F, 0xFF, 0x51}
	maxFTYPLen = uint32(1024)
)

// Tile is a tile size along with the scale factors it is used for.
type Tile struct {
	Width        int
	Height       int
	ScaleFactors []int
}

// Info is the metadata read from a JP2 file.
type Info struct {
	Width  int
	Height int
	// Levels is the number of wavelet decomposition levels.
	Levels     int
	TileWidth  int
	TileHeight int
	Tiles      []Tile
	Qualities  []string
	// ColorProfile is the raw embedded ICC profile, if any.
	ColorProfile []byte
}

type options struct {
	maxProfileSize int64
}

// Option configures Extract.
type Option func(*options)

// WithMaxProfileSize rejects files whose embedded ICC profile is larger
// than n bytes.
func WithMaxProfileSize(n int64) Option {
	return func(o *options) {
		o.maxProfileSize = n
	}
}

// ExtractFile opens path and extracts its metadata.
func ExtractFile(path string, opts ...Option) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Box: "file", Reason: "opening", Err: err}
	}
	defer f.Close()

	return Extract(bufio.NewReaderSize(f, 64*1024), opts...)
}

// Extract reads the metadata of a JP2 stream. The stream is read forward
// only, once, and only the color profile is kept in memory.
func Extract(r io.Reader, opts ...Option) (*Info, error) {
	o := options{maxProfileSize: DefaultMaxProfileSize}
	for _, opt := range opts {
		opt(&o)
	}

	rd := newReader(r)
	info := &Info{}

	if err := readSignature(rd); err != nil {
		return nil, err
	}
	if err := readFileType(rd); err != nil {
		return nil, err
	}
	if err := rd.seek("jp2h", boxJP2H); err != nil {
		return nil, err
	}
	if err := readImageHeader(rd, info); err != nil {
		return nil, err
	}
	if err := rd.seek("colr", boxCOLR); err != nil {
		return nil, err
	}
	if err := readColorSpecification(rd, info, o.maxProfileSize); err != nil {
		return nil, err
	}
	if err := rd.seek("SIZ", soc); err != nil {
		return nil, err
	}
	if err := readSIZ(rd, info); err != nil {
		return nil, err
	}

	precincts, err := readMainHeader(rd, info)
	if err != nil {
		return nil, err
	}

	info.Tiles = tiles(info, precincts)
	return info, nil
}

func readSignature(rd *reader) error {
	sig, err := rd.readExact("signature", "signature box", len(signature))
	if err != nil {
		return err
	}
	if !bytes.Equal(sig, signature) {
		return extractionError("signature", "not a JP2 file, got % X", sig)
	}
	return nil
}

func readFileType(rd *reader) error {
	length, err := rd.uint32("ftyp", "box length")
	if err != nil {
		return err
	}
	kind, err := rd.readExact("ftyp", "box type", 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(kind, boxFTYP) {
		return extractionError("ftyp", "expected the file type box, got %q", kind)
	}
	if length < 16 || length > maxFTYPLen || (length-16)%4 != 0 {
		return extractionError("ftyp", "invalid box length %d", length)
	}

	body, err := rd.readExact("ftyp", "brand", int(length-8))
	if err != nil {
		return err
	}

	if bytes.Equal(body[:4], brandJP2) {
		return nil
	}
	// the brand may be something else as long as jp2 is compatible
	for i := 8; i+4 <= len(body); i += 4 {
		if bytes.Equal(body[i:i+4], brandJP2) {
			return nil
		}
	}
	return extractionError("ftyp", "unsupported brand %q", body[:4])
}

func readImageHeader(rd *reader, info *Info) error {
	length, err := rd.uint32("ihdr", "box length")
	if err != nil {
		return err
	}
	kind, err := rd.readExact("ihdr", "box type", 4)
	if err != nil {
		return err
	}
	if !bytes.Equal(kind, boxIHDR) {
		return extractionError("ihdr", "expected the image header box first in jp2h, got %q", kind)
	}
	if length != ihdrLength {
		return extractionError("ihdr", "expected a %d bytes box, got %d", ihdrLength, length)
	}

	height, err := rd.uint32("ihdr", "height")
	if err != nil {
		return err
	}
	width, err := rd.uint32("ihdr", "width")
	if err != nil {
		return err
	}
	if width == 0 || height == 0 || width > 1<<30 || height > 1<<30 {
		return extractionError("ihdr", "invalid dimensions %dx%d", width, height)
	}

	// NC, BPC, C, UnkC and IPR
	if err := rd.skip("ihdr", 6); err != nil {
		return err
	}

	info.Width = int(width)
	info.Height = int(height)
	return nil
}

func readColorSpecification(rd *reader, info *Info, maxProfileSize int64) error {
	method, err := rd.uint8("colr", "method")
	if err != nil {
		return err
	}
	// precedence and approximation
	if err := rd.skip("colr", 2); err != nil {
		return err
	}

	info.Qualities = []string{QualityDefault, QualityBitonal}

	switch method {
	case 1:
		cs, err := rd.uint32("colr", "enumerated colorspace")
		if err != nil {
			return err
		}
		switch cs {
		case csSRGB:
			info.Qualities = append(info.Qualities, QualityColor, QualityGray)
		case csGreyscale:
			info.Qualities = append(info.Qualities, QualityGray)
		case csSYCC:
		}
	case 2:
		size, err := rd.readExact("colr", "ICC profile length", 4)
		if err != nil {
			return err
		}
		n := int64(size[0])<<24 | int64(size[1])<<16 | int64(size[2])<<8 | int64(size[3])
		if maxProfileSize > 0 && n > maxProfileSize {
			return extractionError("colr", "ICC profile of %d bytes exceeds the limit of %d bytes", n, maxProfileSize)
		}
		if n < iccHeaderSize {
			return extractionError("colr", "ICC profile of %d bytes is shorter than its header", n)
		}
		rest, err := rd.readExact("colr", "ICC profile", int(n-4))
		if err != nil {
			return err
		}

		info.ColorProfile = append(size, rest...)
		info.Qualities = append(info.Qualities, QualityColor, QualityGray)
	}

	return nil
}

// readSIZ reads the image and tile size marker segment, SOC and the SIZ
// marker have been consumed.
func readSIZ(rd *reader, info *Info) error {
	length, err := rd.uint16("SIZ", "Lsiz")
	if err != nil {
		return err
	}
	// Lsiz = 38 + 3 * Csiz
	if length < 41 {
		return extractionError("SIZ", "segment too short, Lsiz is %d", length)
	}

	// Rsiz, Xsiz, Ysiz, XOsiz, YOsiz
	if err := rd.skip("SIZ", 2+4*4); err != nil {
		return err
	}

	tw, err := rd.uint32("SIZ", "XTsiz")
	if err != nil {
		return err
	}
	th, err := rd.uint32("SIZ", "YTsiz")
	if err != nil {
		return err
	}
	if tw == 0 || th == 0 {
		return extractionError("SIZ", "invalid tile size %dx%d", tw, th)
	}

	// XTOsiz, YTOsiz and the components
	if err := rd.skip("SIZ", int64(length)-2-2-6*4); err != nil {
		return err
	}

	info.TileWidth = int(tw)
	info.TileHeight = int(th)
	return nil
}

// readMainHeader walks the marker segments following SIZ until the coding
// style segment, and returns its precinct sizes if it defines any.
func readMainHeader(rd *reader, info *Info) ([]byte, error) {
	for {
		marker, err := rd.uint16("COD", "marker")
		if err != nil {
			return nil, err
		}

		switch {
		case marker == markerCOD:
			return readCOD(rd, info)
		case marker == markerSOT || marker == markerSOD || marker == markerEOC:
			return nil, extractionError("COD", "missing from the main header")
		case marker>>8 != 0xFF || marker == markerSOC || marker == markerSIZ:
			return nil, extractionError("COD", "unexpected marker 0x%04X at offset %d", marker, rd.offset-2)
		}

		length, err := rd.uint16(fmt.Sprintf("0x%04X", marker), "segment length")
		if err != nil {
			return nil, err
		}
		if length < 2 {
			return nil, extractionError(fmt.Sprintf("0x%04X", marker), "invalid segment length %d", length)
		}
		if err := rd.skip(fmt.Sprintf("0x%04X", marker), int64(length)-2); err != nil {
			return nil, err
		}
	}
}

func readCOD(rd *reader, info *Info) ([]byte, error) {
	length, err := rd.uint16("COD", "Lcod")
	if err != nil {
		return nil, err
	}
	if length < 12 {
		return nil, extractionError("COD", "segment too short, Lcod is %d", length)
	}

	scod, err := rd.uint8("COD", "Scod")
	if err != nil {
		return nil, err
	}
	// progression order, number of layers, multiple component transform
	if err := rd.skip("COD", 4); err != nil {
		return nil, err
	}
	levels, err := rd.uint8("COD", "decomposition levels")
	if err != nil {
		return nil, err
	}
	if levels > 32 {
		return nil, extractionError("COD", "invalid number of decomposition levels %d", levels)
	}
	// code-block width, height, style and the wavelet transform
	if err := rd.skip("COD", 4); err != nil {
		return nil, err
	}

	info.Levels = int(levels)

	if scod&0x01 == 0 {
		return nil, nil
	}

	if int(length) < 12+int(levels)+1 {
		return nil, extractionError("COD", "segment too short for %d precinct sizes", levels+1)
	}
	return rd.readExact("COD", "precinct sizes", int(levels)+1)
}

// tiles builds the tile descriptors. A single tile size is used for every
// scale factor unless the image is tiled, in which case the resolution
// levels are grouped by their precinct size.
func tiles(info *Info, precincts []byte) []Tile {
	factors := make([]int, info.Levels+1)
	for i := range factors {
		factors[i] = 1 << uint(i)
	}

	if info.TileWidth == info.Width || len(precincts) == 0 {
		t := Tile{Width: info.TileWidth, ScaleFactors: factors}
		if info.TileHeight != info.TileWidth {
			t.Height = info.TileHeight
		}
		return []Tile{t}
	}

	type size struct{ w, h int }
	groups := make(map[size][]int)
	for r, b := range precincts {
		s := size{w: 1 << uint(b&0x0F), h: 1 << uint(b>>4)}
		groups[s] = append(groups[s], 1<<uint(info.Levels-r))
	}

	result := make([]Tile, 0, len(groups))
	for s, f := range groups {
		sort.Ints(f)
		t := Tile{Width: s.w, ScaleFactors: f}
		if s.h != s.w {
			t.Height = s.h
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Width != result[j].Width {
			return result[i].Width < result[j].Width
		}
		return result[i].Height < result[j].Height
	})
	return result
}
