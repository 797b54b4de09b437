package iiif

import (
	"errors"
	"fmt"
	"time"

	"github.com/greut/jp2iiif/cache"
	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/jp2"
	"github.com/greut/jp2iiif/metrics"
	"github.com/greut/jp2iiif/source"
)

type loadedMetadata struct {
	meta    *image.Metadata
	modTime time.Time
}

// metadata returns what is known about the image, extracting it from the
// source file on a cache miss.
func (s *Server) metadata(identifier string) (*image.Metadata, time.Time, error) {
	meta, modTime, err := s.infos.Get(identifier)
	if err == nil {
		return meta, modTime, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return nil, time.Time{}, err
	}

	if err := s.failures.Get(identifier); err != nil {
		return nil, time.Time{}, err
	}

	v, err := s.infoGroup.Do(identifier, func() (interface{}, error) {
		src, err := s.resolver.Resolve(identifier)
		if err != nil {
			return nil, err
		}

		info, err := jp2.ExtractFile(src.Path, jp2.WithMaxProfileSize(s.maxICC))
		if err != nil {
			metrics.RecordExtraction("error")
			s.failures.Add(identifier, err)
			return nil, err
		}
		metrics.RecordExtraction("ok")

		meta := toMetadata(identifier, src, info)
		modTime, err := s.infos.Put(identifier, meta)
		if err != nil {
			s.logger.Warn("cannot store the metadata", "identifier", identifier, "error", err)
			modTime = time.Now()
		}

		s.logger.Debug("metadata extracted",
			"identifier", identifier,
			"width", meta.Width,
			"height", meta.Height,
			"levels", info.Levels)

		return &loadedMetadata{meta, modTime}, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	lm, ok := v.(*loadedMetadata)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unexpected metadata result %T for %#v", v, identifier)
	}
	return lm.meta, lm.modTime, nil
}

func toMetadata(identifier string, src *source.Source, info *jp2.Info) *image.Metadata {
	tiles := make([]image.Tile, 0, len(info.Tiles))
	for _, t := range info.Tiles {
		tiles = append(tiles, image.Tile{
			Width:        t.Width,
			Height:       t.Height,
			ScaleFactors: t.ScaleFactors,
		})
	}

	qualities := make([]image.Quality, 0, len(info.Qualities))
	for _, q := range info.Qualities {
		qualities = append(qualities, image.Quality(q))
	}

	return &image.Metadata{
		Identifier:   identifier,
		Width:        info.Width,
		Height:       info.Height,
		Tiles:        tiles,
		Qualities:    qualities,
		ColorProfile: info.ColorProfile,
		SourcePath:   src.Path,
		SourceFormat: src.Format,
	}
}
