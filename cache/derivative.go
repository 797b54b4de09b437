package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/metrics"
)

// DerivativeCache stores derivatives under their canonical request path.
// A request spelled differently is a symbolic link to the canonical file,
// never to another link. Nothing is ever evicted.
type DerivativeCache struct {
	root   string
	opts   image.Options
	logger *slog.Logger
}

// NewDerivativeCache creates the cache below root. The options must be the
// ones used to canonicalize the requests.
func NewDerivativeCache(root string, opts image.Options, logger *slog.Logger) (*DerivativeCache, error) {
	if root == "" {
		return nil, errors.New("cache: the derivative cache needs a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := DerivativeCache{
		root:   root,
		opts:   opts,
		logger: logger.With("component", "derivative_cache"),
	}
	return &c, nil
}

func (c *DerivativeCache) path(identifier, region, size, rotation, file string) string {
	return filepath.Join(
		identifierPath(c.root, identifier),
		escape(region),
		escape(size),
		escape(rotation),
		escape(file))
}

// requestPath is where the request as received is looked up.
func (c *DerivativeCache) requestPath(req *image.Request) string {
	return c.path(req.Identifier, req.Region, req.Size, req.Rotation,
		fmt.Sprintf("%s.%s", req.Quality, req.Extension()))
}

// canonicalPath is where the derivative is actually stored.
func (c *DerivativeCache) canonicalPath(can *image.Canonical) string {
	return c.path(can.Request.Identifier,
		can.Region.Canonical(),
		can.Size.Canonical(),
		can.Rotation.Canonical(),
		fmt.Sprintf("%s.%s", can.Quality, can.Format))
}

// Contains tells whether the request, as spelled, can be served from disk.
func (c *DerivativeCache) Contains(req *image.Request) bool {
	_, err := os.Stat(c.requestPath(req))
	return err == nil
}

// Get returns the file holding the derivative of req and its modification
// time, or ErrMiss.
func (c *DerivativeCache) Get(req *image.Request) (string, time.Time, error) {
	path := c.requestPath(req)
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.RecordDerivativeLookup("miss")
			return "", time.Time{}, ErrMiss
		}
		return "", time.Time{}, fmt.Errorf("cache: %w", err)
	}
	metrics.RecordDerivativeLookup("hit")
	return path, stat.ModTime(), nil
}

// Upsert moves tmpFile to the canonical path of req and links the request
// path to it when they differ. A failure to link is logged and ignored, the
// derivative is stored either way. It returns the canonical file.
func (c *DerivativeCache) Upsert(req *image.Request, tmpFile string, meta *image.Metadata) (string, error) {
	can, err := req.Canonicalize(meta, c.opts)
	if err != nil {
		return "", err
	}

	path := c.canonicalPath(can)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	if err := move(tmpFile, path); err != nil {
		return "", fmt.Errorf("cache: storing %s: %w", can.Path(), err)
	}

	c.logger.Debug("derivative stored", "path", can.Path())

	if !can.IsCanonical() {
		if err := c.link(c.requestPath(req), path); err != nil {
			c.logger.Warn("cannot alias derivative",
				"request", req.Path(),
				"canonical", can.Path(),
				"error", err)
		}
	}

	return path, nil
}

// Put stores data as the derivative of req, see Upsert.
func (c *DerivativeCache) Put(req *image.Request, data []byte, meta *image.Metadata) (string, error) {
	tmp, err := os.CreateTemp(c.root, ".derivative-*")
	if err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("cache: %w", err)
	}

	return c.Upsert(req, tmp.Name(), meta)
}

// Alias links the request path of req to its canonical derivative which
// must already exist, ErrMiss otherwise.
func (c *DerivativeCache) Alias(req *image.Request, meta *image.Metadata) error {
	can, err := req.Canonicalize(meta, c.opts)
	if err != nil {
		return err
	}

	path := c.canonicalPath(can)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrMiss
		}
		return fmt.Errorf("cache: %w", err)
	}

	if can.IsCanonical() {
		return nil
	}

	metrics.RecordDerivativeLookup("alias")
	return c.link(c.requestPath(req), path)
}

// link creates alias as a relative symbolic link to target. An existing
// alias is left alone.
func (c *DerivativeCache) link(alias, target string) error {
	if alias == target {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(alias), 0o755); err != nil {
		return err
	}

	rel, err := filepath.Rel(filepath.Dir(alias), target)
	if err != nil {
		return err
	}

	err = os.Symlink(rel, alias)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	return err
}

// move renames src to dst, copying when they are on different devices.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	return os.Remove(src)
}
