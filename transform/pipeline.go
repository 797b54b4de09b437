// Package transform produces derivatives: an external decoder extracts the
// region at the coarsest usable resolution, libvips does the rest.
package transform

import (
	"context"
	"log/slog"
	"time"

	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/metrics"
)

// Pipeline chains a decoder and a finisher.
type Pipeline struct {
	decoder  Decoder
	finisher Finisher
	logger   *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(dec Decoder, fin Finisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		decoder:  dec,
		finisher: fin,
		logger:   logger.With("component", "pipeline"),
	}
}

// ChooseScale returns the coarsest scale factor at which the region still
// has at least the pixels of the requested size, 1 if none does.
func ChooseScale(region *image.RegionParameter, size *image.SizeParameter, factors []int) int {
	scale := 1
	for _, f := range factors {
		if f <= scale {
			continue
		}
		if ceilDiv(region.W, f) >= size.W && ceilDiv(region.H, f) >= size.H {
			scale = f
		}
	}
	return scale
}

// CanEncode tells whether the finisher can produce the format.
func (p *Pipeline) CanEncode(format image.Format) bool {
	if e, ok := p.finisher.(interface{ CanEncode(image.Format) bool }); ok {
		return e.CanEncode(format)
	}
	return true
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Produce computes the derivative of the source file described by can.
func (p *Pipeline) Produce(ctx context.Context, src string, can *image.Canonical, meta *image.Metadata) ([]byte, error) {
	region := can.Region
	scale := ChooseScale(region, can.Size, meta.ScaleFactors())

	hint := DecodeHint{
		X:           region.X,
		Y:           region.Y,
		W:           region.W,
		H:           region.H,
		Full:        region.IsFull(),
		Scale:       scale,
		ImageWidth:  meta.Width,
		ImageHeight: meta.Height,
	}

	start := time.Now()
	bmp, err := p.decoder.Decode(ctx, src, hint)
	if err != nil {
		metrics.RecordTransformError("decode")
		return nil, err
	}

	op := Operation{
		Width:   can.Size.W,
		Height:  can.Size.H,
		Mirror:  can.Rotation.Mirror,
		Angle:   can.Rotation.Angle,
		Quality: can.Quality,
		Format:  can.Format,
		Profile: meta.ColorProfile,
	}
	if !bmp.Windowed {
		s := max(bmp.Scale, 1)
		op.Crop = true
		op.X = region.X / s
		op.Y = region.Y / s
		op.W = max(ceilDiv(region.W, s), 1)
		op.H = max(ceilDiv(region.H, s), 1)
	}

	out, err := p.finisher.Finish(bmp, op)
	if err != nil {
		metrics.RecordTransformError("finish")
		return nil, err
	}

	p.logger.Debug("derivative produced",
		"path", can.Path(),
		"decoder", p.decoder.Name(),
		"scale", scale,
		"duration", time.Since(start))

	return out, nil
}
