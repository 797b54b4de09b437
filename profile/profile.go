// Package profile builds the IIIF Image API 2.1 information document of
// an image.
package profile

import (
	"sort"

	"github.com/greut/jp2iiif/image"
)

// IIIF Image API 2.1 URIs.
const (
	Context  = "http://iiif.io/api/image/2/context.json"
	Protocol = "http://iiif.io/api/image"
	Level2   = "http://iiif.io/api/image/2/level2.json"
)

// ImageProfile contains the technical properties about the service.
type ImageProfile struct {
	Context   string   `json:"@context,omitempty"`
	Type      string   `json:"@type,omitempty"` // empty or iiif:ImageProfile
	Formats   []string `json:"formats"`
	MaxArea   int      `json:"maxArea,omitempty"`
	MaxHeight int      `json:"maxHeight,omitempty"`
	MaxWidth  int      `json:"maxWidth,omitempty"`
	Qualities []string `json:"qualities"`
	Supports  []string `json:"supports,omitempty"`
}

// Size contains the information for the available sizes
type Size struct {
	Type   string `json:"@type,omitempty"` // empty or iiif:Size
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Tile contains the information to deal with tiles.
type Tile struct {
	Type         string `json:"@type,omitempty"` // empty or iiif:Tile
	ScaleFactors []int  `json:"scaleFactors"`
	Width        int    `json:"width"`
	Height       int    `json:"height,omitempty"`
}

// Info contains the technical properties about an image.
type Info struct {
	Context     string        `json:"@context"`
	ID          string        `json:"@id"`
	Type        string        `json:"@type,omitempty"` // empty or iiif:Image
	Protocol    string        `json:"protocol"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Profile     []interface{} `json:"profile"`
	Sizes       []Size        `json:"sizes,omitempty"`
	Tiles       []Tile        `json:"tiles,omitempty"`
	License     string        `json:"license,omitempty"`
	Attribution string        `json:"attribution,omitempty"`
	Logo        string        `json:"logo,omitempty"`
	Service     interface{}   `json:"service,omitempty"`
}

// Capabilities is what the server can do for every image.
type Capabilities struct {
	Formats         []image.Format
	MaxWidth        int
	MaxHeight       int
	MaxArea         int
	AllowUpsampling bool
	// CanonicalRedirect is set when non canonical requests are redirected.
	CanonicalRedirect bool
}

var supports = []string{
	"baseUriRedirect",
	"canonicalLinkHeader",
	"cors",
	"jsonldMediaType",
	"mirroring",
	"profileLinkHeader",
	"regionByPct",
	"regionByPx",
	"regionSquare",
	"rotationBy90s",
	"sizeByConfinedWh",
	"sizeByDistortedWh",
	"sizeByH",
	"sizeByPct",
	"sizeByW",
	"sizeByWh",
}

// Supports lists the optional features, sorted.
func (c Capabilities) Supports() []string {
	s := append([]string(nil), supports...)
	if c.AllowUpsampling {
		s = append(s, "sizeAboveFull")
	}
	sort.Strings(s)
	return s
}

// New builds the information document of an image served at id.
func New(id string, meta *image.Metadata, caps Capabilities, extras *Extras) *Info {
	formats := make([]string, 0, len(caps.Formats))
	for _, f := range caps.Formats {
		formats = append(formats, string(f))
	}

	qualities := make([]string, 0, len(meta.Qualities))
	for _, q := range meta.Qualities {
		qualities = append(qualities, string(q))
	}

	sizes := make([]Size, 0)
	for _, s := range meta.Sizes() {
		sizes = append(sizes, Size{Width: s.Width, Height: s.Height})
	}

	tiles := make([]Tile, 0, len(meta.Tiles))
	for _, t := range meta.Tiles {
		tiles = append(tiles, Tile{
			Width:        t.Width,
			Height:       t.Height,
			ScaleFactors: append([]int(nil), t.ScaleFactors...),
		})
	}

	p := Info{
		Context:  Context,
		ID:       id,
		Protocol: Protocol,
		Width:    meta.Width,
		Height:   meta.Height,
		Profile: []interface{}{
			Level2,
			&ImageProfile{
				Formats:   formats,
				Qualities: qualities,
				MaxWidth:  caps.MaxWidth,
				MaxHeight: caps.MaxHeight,
				MaxArea:   caps.MaxArea,
				Supports:  caps.Supports(),
			},
		},
		Sizes: sizes,
		Tiles: tiles,
	}

	if extras != nil {
		p.License = extras.License
		p.Attribution = extras.Attribution
		p.Logo = extras.Logo
		p.Service = extras.Service
	}

	return &p
}
