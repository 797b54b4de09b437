package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DiskResolver looks identifiers up in a list of directories, the first
// one holding the file wins.
type DiskResolver struct {
	roots []string
}

// NewDiskResolver creates a resolver over roots.
func NewDiskResolver(roots ...string) (*DiskResolver, error) {
	if len(roots) == 0 {
		return nil, errors.New("source: at least one root is required")
	}

	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		p, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		abs = append(abs, p)
	}

	return &DiskResolver{roots: abs}, nil
}

// Resolve implements Resolver.
func (ds *DiskResolver) Resolve(identifier string) (*Source, error) {
	rel := filepath.FromSlash(strings.TrimLeft(strings.ReplaceAll(identifier, "../", ""), "/"))
	if rel == "" || rel == "." {
		return nil, &ResolverError{Identifier: identifier, Reason: "is empty"}
	}

	for _, root := range ds.roots {
		path := filepath.Join(root, rel)
		// the identifier cannot escape its root
		if !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return nil, &ResolverError{Identifier: identifier, Reason: "is outside of the images"}
		}

		stat, err := os.Stat(path)
		if err != nil || !stat.Mode().IsRegular() {
			continue
		}

		s := Source{
			Identifier: identifier,
			Path:       path,
			Format:     strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
		}
		return &s, nil
	}

	return nil, &ResolverError{Identifier: identifier, Reason: "not found", Err: os.ErrNotExist}
}
