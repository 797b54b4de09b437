package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/metrics"
)

const (
	infoFile    = "info.json"
	profileFile = "profile.icc"
)

// InfoCache stores the metadata of the source images. A bounded memory
// tier sits in front of an unbounded directory tree, one directory per
// identifier holding info.json and, if any, profile.icc.
type InfoCache struct {
	root   string
	memory *memoryCache
	logger *slog.Logger
}

type infoRecord struct {
	meta    *image.Metadata
	modTime time.Time
}

// NewInfoCache creates the cache below root keeping up to entries records
// in memory, zero disabling the memory tier.
func NewInfoCache(root string, entries int, logger *slog.Logger) (*InfoCache, error) {
	if root == "" {
		return nil, errors.New("cache: the info cache needs a root directory")
	}
	if entries < 0 {
		return nil, fmt.Errorf("cache: invalid number of info entries %d", entries)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := InfoCache{
		root:   root,
		memory: newMemoryCache(entries),
		logger: logger.With("component", "info_cache"),
	}
	return &c, nil
}

func (c *InfoCache) dir(identifier string) string {
	return identifierPath(c.root, identifier)
}

// Get returns the metadata of identifier and the time it was stored, or
// ErrMiss. A hit on disk is promoted to memory.
func (c *InfoCache) Get(identifier string) (*image.Metadata, time.Time, error) {
	if v, ok := c.memory.Get(identifier); ok {
		rec := v.(*infoRecord)
		metrics.RecordInfoLookup("memory")
		return rec.meta, rec.modTime, nil
	}

	dir := c.dir(identifier)
	path := filepath.Join(dir, infoFile)

	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.RecordInfoLookup("miss")
			return nil, time.Time{}, ErrMiss
		}
		return nil, time.Time{}, fmt.Errorf("cache: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("cache: %w", err)
	}

	meta := new(image.Metadata)
	if err := json.Unmarshal(data, meta); err != nil {
		// the record gets rebuilt by the caller
		c.logger.Warn("corrupt info record", "identifier", identifier, "path", path, "error", err)
		metrics.RecordInfoLookup("miss")
		return nil, time.Time{}, ErrMiss
	}
	meta.Identifier = identifier

	profile, err := os.ReadFile(filepath.Join(dir, profileFile))
	switch {
	case err == nil:
		meta.ColorProfile = profile
	case !errors.Is(err, fs.ErrNotExist):
		return nil, time.Time{}, fmt.Errorf("cache: %w", err)
	}

	rec := infoRecord{meta: meta, modTime: stat.ModTime()}
	c.memory.Set(identifier, &rec)

	c.logger.Debug("info promoted to memory",
		"identifier", identifier,
		"profile", bytefmt.ByteSize(uint64(len(meta.ColorProfile))))
	metrics.RecordInfoLookup("disk")

	return meta, rec.modTime, nil
}

// Put stores the metadata in both tiers and returns the modification time
// later lookups report. The profile is written before info.json so a
// readable record always has its profile.
func (c *InfoCache) Put(identifier string, meta *image.Metadata) (time.Time, error) {
	dir := c.dir(identifier)
	profilePath := filepath.Join(dir, profileFile)

	if len(meta.ColorProfile) > 0 {
		if err := writeFile(profilePath, meta.ColorProfile); err != nil {
			return time.Time{}, fmt.Errorf("cache: writing the color profile: %w", err)
		}
	} else if err := os.Remove(profilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, fmt.Errorf("cache: %w", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: %w", err)
	}

	path := filepath.Join(dir, infoFile)
	if err := writeFile(path, data); err != nil {
		return time.Time{}, fmt.Errorf("cache: writing the info record: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: %w", err)
	}

	c.memory.Set(identifier, &infoRecord{meta: meta, modTime: stat.ModTime()})
	return stat.ModTime(), nil
}

// Delete removes identifier from both tiers, ErrMiss when it was in none.
func (c *InfoCache) Delete(identifier string) error {
	_, inMemory := c.memory.Get(identifier)
	c.memory.Unset(identifier)

	dir := c.dir(identifier)
	_, err := os.Stat(filepath.Join(dir, infoFile))
	onDisk := err == nil

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if !inMemory && !onDisk {
		return ErrMiss
	}
	return nil
}

// Len is the number of records held in memory.
func (c *InfoCache) Len() int {
	return c.memory.Len()
}
