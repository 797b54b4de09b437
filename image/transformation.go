package image

import (
	"fmt"
	"net/url"
	"strings"
)

// Request is an image request as it was received: an identifier followed
// by the raw region, size and rotation segments. It is never modified.
type Request struct {
	Identifier string
	Region     string
	Size       string
	Rotation   string
	Quality    Quality
	Format     Format
	// extension is the format as it was spelled.
	extension string
}

// NewRequest validates the quality and format of a request. The geometric
// parameters can only be checked once the image dimensions are known, see
// Canonicalize.
func NewRequest(identifier, region, size, rotation, quality, format string) (*Request, error) {
	q, err := ParseQuality(quality)
	if err != nil {
		return nil, err
	}

	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	r := Request{
		Identifier: identifier,
		Region:     region,
		Size:       size,
		Rotation:   rotation,
		Quality:    q,
		Format:     f,
		extension:  format,
	}

	return &r, nil
}

// ParsePath reads a request from {identifier}/{region}/{size}/{rotation}/{quality}.{format},
// the identifier being URL escaped.
func ParsePath(path string) (*Request, error) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) < 5 {
		return nil, syntaxError("path", path, "expected {identifier}/{region}/{size}/{rotation}/{quality}.{format}")
	}

	n := len(segments)
	last := segments[n-1]
	dot := strings.LastIndex(last, ".")
	if dot < 0 {
		return nil, syntaxError("path", path, "missing format extension")
	}

	identifier, err := url.PathUnescape(strings.Join(segments[:n-4], "/"))
	if err != nil {
		return nil, syntaxError("path", path, "%v", err)
	}

	return NewRequest(identifier, segments[n-4], segments[n-3], segments[n-2], last[:dot], last[dot+1:])
}

// Extension is the format as it was spelled in the request.
func (r *Request) Extension() string {
	if r.extension == "" {
		return string(r.Format)
	}
	return r.extension
}

// Path is the slash joined request, with the identifier escaped.
func (r *Request) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		EscapeIdentifier(r.Identifier), r.Region, r.Size, r.Rotation, r.Quality, r.Extension())
}

// Canonical is a request resolved against the metadata of its image.
// Requests with the same canonical path produce the same bytes.
type Canonical struct {
	Request  *Request
	Region   *RegionParameter
	Size     *SizeParameter
	Rotation *RotationParameter
	// Quality is QualityDefault when no color conversion is needed.
	Quality Quality
	Format  Format
}

// Canonicalize resolves the request parameters against an image.
func (r *Request) Canonicalize(meta *Metadata, opts Options) (*Canonical, error) {
	region, err := ParseRegion(r.Region, meta.Width, meta.Height)
	if err != nil {
		return nil, err
	}

	size, err := ParseSize(r.Size, region, opts)
	if err != nil {
		return nil, err
	}

	rotation, err := ParseRotation(r.Rotation)
	if err != nil {
		return nil, err
	}

	quality := r.Quality
	if quality != QualityDefault && !meta.Supports(quality) {
		return nil, rangeError("quality", string(quality), "not available for this image")
	}
	if quality == meta.NativeQuality() {
		quality = QualityDefault
	}

	c := Canonical{
		Request:  r,
		Region:   region,
		Size:     size,
		Rotation: rotation,
		Quality:  quality,
		Format:   r.Format,
	}

	return &c, nil
}

// Path is the canonical form of the request path.
func (c *Canonical) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		EscapeIdentifier(c.Request.Identifier),
		c.Region.Canonical(),
		c.Size.Canonical(),
		c.Rotation.Canonical(),
		c.Quality,
		c.Format)
}

// IsCanonical tells whether the request was already in its canonical form.
func (c *Canonical) IsCanonical() bool {
	return c.Path() == c.Request.Path()
}
