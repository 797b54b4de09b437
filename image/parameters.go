package image

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// RegionMode tells how a region was expressed.
type RegionMode string

// SizeMode tells how a size was expressed.
type SizeMode string

// Region modes.
const (
	RegionFull    RegionMode = "full"
	RegionSquare  RegionMode = "square"
	RegionPercent RegionMode = "pct"
	RegionPixel   RegionMode = "pixel"
)

// Size modes.
const (
	SizeFull    SizeMode = "full"
	SizeMax     SizeMode = "max"
	SizePercent SizeMode = "pct"
	SizeWidth   SizeMode = "w,"
	SizeHeight  SizeMode = ",h"
	SizeExact   SizeMode = "w,h"
	SizeBestFit SizeMode = "!w,h"
)

// Options are the deployment limits the canonicalizer enforces.
type Options struct {
	MaxWidth        int
	MaxHeight       int
	MaxArea         int
	AllowUpsampling bool
}

// RegionParameter is a region resolved against the dimensions of an image.
//
// X, Y, W and H are pixels in the full resolution image and always satisfy
// 0 <= X < ImageWidth, 0 <= Y < ImageHeight, X+W <= ImageWidth,
// Y+H <= ImageHeight and W, H > 0.
type RegionParameter struct {
	Requested   string
	Mode        RegionMode
	X           int
	Y           int
	W           int
	H           int
	ImageWidth  int
	ImageHeight int
}

// IsFull reports whether the region covers the whole image.
func (r *RegionParameter) IsFull() bool {
	return r.X == 0 && r.Y == 0 && r.W == r.ImageWidth && r.H == r.ImageHeight
}

// Canonical returns the pixel form of the region, or "full".
func (r *RegionParameter) Canonical() string {
	if r.IsFull() {
		return string(RegionFull)
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Decimal returns the region as fractions of the image dimensions.
func (r *RegionParameter) Decimal() (x, y, w, h float64) {
	fw := float64(r.ImageWidth)
	fh := float64(r.ImageHeight)
	return float64(r.X) / fw, float64(r.Y) / fh, float64(r.W) / fw, float64(r.H) / fh
}

// full
// square
// x,y,w,h (in pixels)
// pct:x,y,w,h (in percents)

// ParseRegion resolves a region against an image of the given dimensions.
// A region hanging over the right or bottom edge is cropped to the image,
// an offset outside of the image is a RangeError.
func ParseRegion(region string, width, height int) (*RegionParameter, error) {
	r := &RegionParameter{
		Requested:   region,
		ImageWidth:  width,
		ImageHeight: height,
	}

	switch {
	case region == string(RegionFull):
		r.Mode = RegionFull
		r.W = width
		r.H = height
		return r, nil

	case region == string(RegionSquare):
		r.Mode = RegionSquare
		if width < height {
			r.Y = (height - width) / 2
			r.W = width
			r.H = width
		} else {
			r.X = (width - height) / 2
			r.W = height
			r.H = height
		}
		return r, nil

	case strings.HasPrefix(region, "pct:"):
		r.Mode = RegionPercent
		sizes := strings.Split(region[4:], ",")
		if len(sizes) != 4 {
			return nil, syntaxError("region", region, "expected four comma separated values")
		}

		var values [4]*big.Rat
		for i, s := range sizes {
			v, ok := parseDecimal(s)
			if !ok {
				return nil, syntaxError("region", region, "%#v is not a decimal number", s)
			}
			if v.Cmp(hundred) > 0 {
				return nil, rangeError("region", region, "percentage %v is greater than 100", s)
			}
			values[i] = v
		}

		if values[2].Sign() == 0 || values[3].Sign() == 0 {
			return nil, rangeError("region", region, "width and height must be greater than 0")
		}

		r.X = scale(width, values[0], hundred)
		r.Y = scale(height, values[1], hundred)
		r.W = atLeastOne(scale(width, values[2], hundred))
		r.H = atLeastOne(scale(height, values[3], hundred))

	default:
		r.Mode = RegionPixel
		sizes := strings.Split(region, ",")
		if len(sizes) != 4 {
			message := fmt.Sprintf(regionError, region)
			return nil, syntaxError("region", region, "%s", message)
		}

		var values [4]int
		for i, s := range sizes {
			v, ok := parseInteger(s)
			if !ok {
				return nil, syntaxError("region", region, "%#v is not an integer", s)
			}
			if v < 0 {
				return nil, rangeError("region", region, "%v is negative", v)
			}
			values[i] = v
		}

		r.X, r.Y, r.W, r.H = values[0], values[1], values[2], values[3]
		if r.W == 0 || r.H == 0 {
			return nil, rangeError("region", region, "width and height must be greater than 0")
		}
	}

	if r.X >= width || r.Y >= height {
		return nil, rangeError("region", region, "out of bounds of a %vx%v image", width, height)
	}

	if r.W > width-r.X {
		r.W = width - r.X
	}
	if r.H > height-r.Y {
		r.H = height - r.Y
	}

	return r, nil
}

// SizeParameter is a size resolved against the extent of a region.
type SizeParameter struct {
	Requested string
	Mode      SizeMode
	// W and H are the output dimensions.
	W int
	H int
	// ForceAspect is true when the caller asked for an exact w,h which may
	// distort the image.
	ForceAspect bool
	RegionW     int
	RegionH     int
}

// IsFull reports whether the size is the extent of the region.
func (s *SizeParameter) IsFull() bool {
	return s.W == s.RegionW && s.H == s.RegionH
}

// Canonical returns "w,h" or "full".
func (s *SizeParameter) Canonical() string {
	if s.IsFull() {
		return string(SizeFull)
	}
	return fmt.Sprintf("%d,%d", s.W, s.H)
}

// max, full
// w,h (deform)
// !w,h (best fit within size)
// w, (force width)
// ,h (force height)
// pct:n (resize)

// ParseSize resolves a size against the pixel extent of a region.
//
// Best fit sizes keep the aspect ratio of the region. When both the width
// constrained and the height constrained candidates fit the box, the width
// constrained one wins. Without upsampling a best fit never grows past the
// region.
func ParseSize(size string, region *RegionParameter, opts Options) (*SizeParameter, error) {
	rw, rh := region.W, region.H
	s := &SizeParameter{
		Requested: size,
		RegionW:   rw,
		RegionH:   rh,
	}

	switch {
	case size == string(SizeFull):
		s.Mode = SizeFull
		s.W, s.H = rw, rh

	case size == string(SizeMax):
		s.Mode = SizeMax
		s.W, s.H = computeMax(rw, rh, opts)
		return s, nil

	case strings.HasPrefix(size, "pct:"):
		s.Mode = SizePercent
		pct, ok := parseDecimal(size[4:])
		if !ok {
			message := fmt.Sprintf(sizeError, size)
			return nil, syntaxError("size", size, "%s", message)
		}
		if pct.Sign() == 0 {
			return nil, rangeError("size", size, "percentage must be greater than 0")
		}
		if !opts.AllowUpsampling && pct.Cmp(hundred) > 0 {
			return nil, rangeError("size", size, "percentage %v is greater than 100", size[4:])
		}
		s.W = atLeastOne(scale(rw, pct, hundred))
		s.H = atLeastOne(scale(rh, pct, hundred))

	default:
		best := strings.HasPrefix(size, "!")
		sizes := strings.Split(strings.TrimPrefix(size, "!"), ",")
		if len(sizes) != 2 {
			message := fmt.Sprintf(sizeError, size)
			return nil, syntaxError("size", size, "%s", message)
		}

		w, errW := parseDimension(sizes[0])
		h, errH := parseDimension(sizes[1])
		if errW != nil || errH != nil {
			message := fmt.Sprintf(sizeError, size)
			return nil, syntaxError("size", size, "%s", message)
		}

		switch {
		case w < 0 && h < 0:
			message := fmt.Sprintf(sizeError, size)
			return nil, syntaxError("size", size, "%s", message)
		case w == 0 || h == 0:
			return nil, rangeError("size", size, "width and height must be greater than 0")
		case best && (w < 0 || h < 0):
			return nil, syntaxError("size", size, "best fit requires both a width and a height")
		case best:
			s.Mode = SizeBestFit
			s.W, s.H = bestFit(rw, rh, w, h)
			if !opts.AllowUpsampling && (s.W > rw || s.H > rh) {
				s.W, s.H = rw, rh
			}
		case h < 0:
			s.Mode = SizeWidth
			s.W = w
			s.H = atLeastOne(scale(w, ratInt(rh), ratInt(rw)))
		case w < 0:
			s.Mode = SizeHeight
			s.H = h
			s.W = atLeastOne(scale(h, ratInt(rw), ratInt(rh)))
		default:
			s.Mode = SizeExact
			s.W, s.H = w, h
			s.ForceAspect = true
		}
	}

	if !opts.AllowUpsampling && (s.W > rw || s.H > rh) {
		return nil, rangeError("size", size, "%vx%v is larger than the %vx%v region", s.W, s.H, rw, rh)
	}

	if (opts.MaxWidth != 0 && s.W > opts.MaxWidth) ||
		(opts.MaxHeight != 0 && s.H > opts.MaxHeight) ||
		(opts.MaxArea != 0 && s.W > opts.MaxArea/s.H) {
		return nil, rangeError("size", size, "%vx%v is out of the limits %vx%v (area %v)",
			s.W, s.H, opts.MaxWidth, opts.MaxHeight, opts.MaxArea)
	}

	return s, nil
}

// parseDimension returns -1 for an empty value.
func parseDimension(s string) (int, error) {
	if s == "" {
		return -1, nil
	}
	v, ok := parseInteger(s)
	if !ok || v < 0 {
		return 0, fmt.Errorf("%#v is not a positive integer", s)
	}
	return v, nil
}

func bestFit(rw, rh, bw, bh int) (int, int) {
	// width constrained candidate
	wA := bw
	hA := atLeastOne(scale(bw, ratInt(rh), ratInt(rw)))
	if hA <= bh {
		return wA, hA
	}
	// height constrained candidate
	hB := bh
	wB := atLeastOne(scale(bh, ratInt(rw), ratInt(rh)))
	return wB, hB
}

// computeMax shrinks width x height until it fits every configured limit.
func computeMax(width, height int, opts Options) (int, int) {
	// The three ratios computed for each max value.
	rW := big.NewRat(1, 1)
	rH := big.NewRat(1, 1)
	rA := big.NewRat(1, 1)

	if opts.MaxWidth != 0 && width > opts.MaxWidth {
		rW = big.NewRat(int64(opts.MaxWidth), int64(width))
	}

	if opts.MaxHeight != 0 && height > opts.MaxHeight {
		rH = big.NewRat(int64(opts.MaxHeight), int64(height))
	}

	area := width * height
	if opts.MaxArea != 0 && area > opts.MaxArea {
		// Start just above the exact ratio and shrink the width until the
		// derived height fits in the area.
		w := int(float64(width)*math.Sqrt(float64(opts.MaxArea)/float64(area))) + 1
		if w > width {
			w = width
		}
		for w > 1 && w*atLeastOne(scale(w, ratInt(height), ratInt(width))) > opts.MaxArea {
			w--
		}
		rA = big.NewRat(int64(w), int64(width))
	}

	// Picking the smallest ratio enforces the smallest limitation
	ratio := rW
	if rH.Cmp(ratio) < 0 {
		ratio = rH
	}
	if rA.Cmp(ratio) < 0 {
		ratio = rA
	}

	w := atLeastOne(roundHalfUp(new(big.Rat).Mul(ratInt(width), ratio)))
	h := atLeastOne(roundHalfUp(new(big.Rat).Mul(ratInt(height), ratio)))
	if opts.MaxWidth != 0 && w > opts.MaxWidth {
		w = opts.MaxWidth
	}
	if opts.MaxHeight != 0 && h > opts.MaxHeight {
		h = opts.MaxHeight
	}
	return w, h
}

// RotationParameter is a rotation snapped to a multiple of 90 degrees.
type RotationParameter struct {
	Requested string
	Mirror    bool
	// Angle is one of 0, 90, 180 or 270.
	Angle int
}

// IsIdentity reports whether no rotation nor mirroring is needed.
func (r *RotationParameter) IsIdentity() bool {
	return r.Angle == 0 && !r.Mirror
}

// Canonical returns the rotation as [!]angle.
func (r *RotationParameter) Canonical() string {
	angle := strconv.Itoa(r.Angle)
	if r.Mirror {
		return "!" + angle
	}
	return angle
}

var ninety = big.NewRat(90, 1)

// n angle clockwise in degrees
// !n angle clockwise in degrees with a flip (beforehand)

// ParseRotation rounds the angle to the nearest multiple of 90, halves
// going up, and reduces it to [0, 360).
func ParseRotation(rotation string) (*RotationParameter, error) {
	mirror := strings.HasPrefix(rotation, "!")
	value, ok := parseSignedDecimal(strings.TrimPrefix(rotation, "!"))
	if !ok {
		message := fmt.Sprintf(rotationError, rotation)
		return nil, syntaxError("rotation", rotation, "%s", message)
	}

	quarters := roundHalfUp(new(big.Rat).Quo(value, ninety))
	angle := ((quarters%4)*90 + 360) % 360

	return &RotationParameter{
		Requested: rotation,
		Mirror:    mirror,
		Angle:     angle,
	}, nil
}
