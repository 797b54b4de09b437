package jp2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greut/jp2iiif/image"
)

type fixture struct {
	width, height uint32
	tileW, tileH  uint32
	levels        uint8
	precincts     []byte
	// enum is the enumerated colorspace, ignored when profile is set
	enum    uint32
	profile []byte
	brand   string
	// comment adds a COM segment between SIZ and COD
	comment bool
}

func box(kind string, payload []byte) []byte {
	b := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:], kind)
	return append(b, payload...)
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// bytes returns the encoded file and the offset right after the COD
// segment, everything past it is never read.
func (f fixture) bytes() ([]byte, int) {
	brand := f.brand
	if brand == "" {
		brand = "jp2 "
	}

	ftyp := box("ftyp", join([]byte(brand), be32(0), []byte("jp2 ")))

	ihdr := box("ihdr", join(be32(f.height), be32(f.width), be16(3), []byte{7, 7, 0, 0}))

	var colr []byte
	if f.profile != nil {
		colr = box("colr", join([]byte{2, 0, 0}, f.profile))
	} else {
		colr = box("colr", join([]byte{1, 0, 0}, be32(f.enum)))
	}
	jp2h := box("jp2h", join(ihdr, colr))

	siz := join(
		be16(markerSIZ), be16(47),
		be16(0), be32(f.width), be32(f.height), be32(0), be32(0),
		be32(f.tileW), be32(f.tileH), be32(0), be32(0),
		be16(3), []byte{7, 1, 1, 7, 1, 1, 7, 1, 1},
	)

	var com []byte
	if f.comment {
		com = join(be16(0xFF64), be16(6), be16(1), []byte("ok"))
	}

	scod := byte(0)
	if len(f.precincts) > 0 {
		scod = 1
	}
	cod := join(
		be16(markerCOD), be16(uint16(12+len(f.precincts))),
		[]byte{scod, 0}, be16(1), []byte{1},
		[]byte{f.levels, 4, 4, 0, 0},
		f.precincts,
	)

	head := join(be16(markerSOC), siz, com, cod)
	rest := join(be16(0xFF5C), be16(4), []byte{0, 0}, be16(markerSOT), be16(10), make([]byte, 8), be16(markerEOC))

	prefix := join(signature, ftyp, jp2h, []byte{0, 0, 0, 0}, []byte("jp2c"))
	file := join(prefix, head, rest)
	return file, len(prefix) + len(head)
}

func iccProfile(size int) []byte {
	p := make([]byte, size)
	binary.BigEndian.PutUint32(p, uint32(size))
	copy(p[36:], "acsp")
	return p
}

func TestExtractUntiled(t *testing.T) {
	data, _ := fixture{width: 5906, height: 7200, tileW: 5906, tileH: 7200, levels: 5, enum: 16}.bytes()

	info, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 5906, info.Width)
	assert.Equal(t, 7200, info.Height)
	assert.Equal(t, 5, info.Levels)
	assert.Equal(t, []Tile{{Width: 5906, Height: 7200, ScaleFactors: []int{1, 2, 4, 8, 16, 32}}}, info.Tiles)
	assert.Equal(t, []string{"default", "bitonal", "color", "gray"}, info.Qualities)
	assert.Nil(t, info.ColorProfile)
}

func TestExtractPrecincts(t *testing.T) {
	f := fixture{
		width: 1000, height: 800, tileW: 512, tileH: 512, levels: 5, enum: 17,
		precincts: []byte{0x77, 0x77, 0x88, 0x88, 0x88, 0x88},
		comment:   true,
	}
	data, _ := f.bytes()

	info, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []Tile{
		{Width: 128, ScaleFactors: []int{16, 32}},
		{Width: 256, ScaleFactors: []int{1, 2, 4, 8}},
	}, info.Tiles)
	assert.Equal(t, []string{"default", "bitonal", "gray"}, info.Qualities)
}

func TestExtractNonSquarePrecincts(t *testing.T) {
	f := fixture{
		width: 1000, height: 800, tileW: 256, tileH: 256, levels: 1, enum: 18,
		precincts: []byte{0x78, 0x78},
	}
	data, _ := f.bytes()

	info, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []Tile{{Width: 256, Height: 128, ScaleFactors: []int{1, 2}}}, info.Tiles)
	assert.Equal(t, []string{"default", "bitonal"}, info.Qualities)
}

func TestExtractTiledWithoutPrecincts(t *testing.T) {
	data, _ := fixture{width: 1000, height: 800, tileW: 256, tileH: 512, levels: 2, enum: 16}.bytes()

	info, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []Tile{{Width: 256, Height: 512, ScaleFactors: []int{1, 2, 4}}}, info.Tiles)
}

func TestExtractColorProfile(t *testing.T) {
	profile := iccProfile(200)
	data, _ := fixture{width: 10, height: 10, tileW: 10, tileH: 10, profile: profile}.bytes()

	info, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, profile, info.ColorProfile)
	assert.Equal(t, []string{"default", "bitonal", "color", "gray"}, info.Qualities)

	_, err = Extract(bytes.NewReader(data), WithMaxProfileSize(100))
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "colr", ee.Box)
}

func TestExtractSizes(t *testing.T) {
	data, _ := fixture{width: 5906, height: 7200, tileW: 5906, tileH: 7200, levels: 2, enum: 16}.bytes()

	info, err := Extract(bytes.NewReader(data))
	require.NoError(t, err)

	meta := image.Metadata{Width: info.Width, Height: info.Height}
	for _, tile := range info.Tiles {
		meta.Tiles = append(meta.Tiles, image.Tile{Width: tile.Width, Height: tile.Height, ScaleFactors: tile.ScaleFactors})
	}

	assert.Equal(t, []image.Size{{Width: 1477, Height: 1800}, {Width: 2953, Height: 3600}, {Width: 5906, Height: 7200}}, meta.Sizes())
}

func TestExtractErrors(t *testing.T) {
	valid, _ := fixture{width: 10, height: 10, tileW: 10, tileH: 10, enum: 16}.bytes()

	corrupt := func(offset int, b ...byte) []byte {
		data := append([]byte(nil), valid...)
		copy(data[offset:], b)
		return data
	}

	// signature(12) ftyp(20) jp2h header(8) ihdr(22)
	var tests = []struct {
		name string
		data []byte
		box  string
	}{
		{"empty", nil, "signature"},
		{"signature", corrupt(4, 'J'), "signature"},
		{"brand", corrupt(20, 'j', 'p', 'x', ' ', 0, 0, 0, 0, 'j', 'p', 'x', ' '), "ftyp"},
		{"ihdr length", corrupt(40, 0, 0, 0, 30), "ihdr"},
		{"ihdr type", corrupt(44, 'b', 'p', 'c', 'c'), "ihdr"},
		{"no jp2h", corrupt(36, 'x'), "jp2h"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Extract(bytes.NewReader(test.data))
			var ee *ExtractionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, test.box, ee.Box)
		})
	}
}

func TestExtractMissingCOD(t *testing.T) {
	data, end := fixture{width: 10, height: 10, tileW: 10, tileH: 10, enum: 16}.bytes()
	// turn COD, the last main header segment, into a COC
	cod := bytes.LastIndex(data[:end], be16(markerCOD))
	data[cod+1] = 0x53

	_, err := Extract(bytes.NewReader(data))
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "COD", ee.Box)
}

func TestExtractTruncated(t *testing.T) {
	f := fixture{
		width: 1000, height: 800, tileW: 512, tileH: 512, levels: 5,
		precincts: []byte{0x77, 0x77, 0x88, 0x88, 0x88, 0x88},
		profile:   iccProfile(150),
		comment:   true,
	}
	data, end := f.bytes()

	for n := 0; n < len(data); n++ {
		info, err := Extract(bytes.NewReader(data[:n]))
		if n < end {
			var ee *ExtractionError
			if !assert.ErrorAs(t, err, &ee, "prefix of %d bytes", n) {
				continue
			}
			assert.Nil(t, info)
		} else {
			assert.NoError(t, err, "prefix of %d bytes", n)
		}
	}
}

func TestExtractShortRead(t *testing.T) {
	data, _ := fixture{width: 10, height: 10, tileW: 10, tileH: 10, enum: 16}.bytes()

	// ends in the middle of the ihdr width
	_, err := Extract(bytes.NewReader(data[:54]))
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "ihdr", ee.Box)
	assert.Contains(t, ee.Reason, "width")
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestExtractFile(t *testing.T) {
	data, _ := fixture{width: 64, height: 32, tileW: 64, tileH: 32, levels: 1, enum: 16}.bytes()
	path := filepath.Join(t.TempDir(), "image.jp2")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	info, err := ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 32, info.Height)

	_, err = ExtractFile(filepath.Join(t.TempDir(), "missing.jp2"))
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFailureTable(t *testing.T) {
	assert.Equal(t, []int{0, 0, 1, 2, 0}, failureTable([]byte("ababc")))

	// the window search restarts inside a partial match
	rd := newReader(bytes.NewReader([]byte("xxjpjp2hyy")))
	require.NoError(t, rd.seek("jp2h", boxJP2H))
	assert.Equal(t, int64(8), rd.offset)
}
