// Package source maps image identifiers to source files.
package source

import (
	"fmt"

	"github.com/greut/jp2iiif/config"
)

// Source is a resolved source image.
type Source struct {
	Identifier string
	Path       string
	// Format is the file extension, e.g. jp2.
	Format string
}

// Resolver maps an identifier to a readable source file.
type Resolver interface {
	Resolve(identifier string) (*Source, error)
}

// ResolverError is returned when an identifier cannot be resolved.
type ResolverError struct {
	Identifier string
	Reason     string
	Err        error
}

func (e *ResolverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source: %#v %s: %v", e.Identifier, e.Reason, e.Err)
	}
	return fmt.Sprintf("source: %#v %s", e.Identifier, e.Reason)
}

func (e *ResolverError) Unwrap() error {
	return e.Err
}

// NewResolverFromConfig builds the resolver named by the configuration.
func NewResolverFromConfig(c config.Images) (Resolver, error) {
	switch c.Resolver {
	case config.ResolverDisk, "":
		return NewDiskResolver(c.Roots...)
	}
	return nil, &config.ConfigError{Key: "images.resolver", Reason: fmt.Sprintf("unknown resolver %#v", c.Resolver)}
}
