// Package cache keeps the metadata of the source images and the derivatives
// computed from them on disk.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/greut/jp2iiif/image"
)

// ErrMiss is returned when a key is in none of the tiers.
var ErrMiss = errors.New("cache: miss")

// identifierPath shards identifiers over three levels of directories taken
// from their SHA-1: root/ab/cd/ef/{escaped identifier}.
func identifierPath(root, identifier string) string {
	sum := sha1.Sum([]byte(identifier))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(root, h[0:2], h[2:4], h[4:6], escape(identifier))
}

// escape turns an identifier into a single path element.
func escape(identifier string) string {
	e := image.EscapeIdentifier(identifier)
	if e == "." || e == ".." {
		return strings.ReplaceAll(e, ".", "%2E")
	}
	return e
}

// writeFile writes data next to path and renames it in place so readers
// never see a partial file.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
