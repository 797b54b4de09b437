package image

import (
	"net/url"
	"strings"
)

// ScrubIdentifier unescapes an identifier taken from a URL and removes any
// attempt at walking up the directory tree.
func ScrubIdentifier(identifier string) (string, error) {
	clean, err := url.PathUnescape(identifier)
	if err != nil {
		return "", err
	}

	clean = strings.Replace(clean, "../", "", -1)
	return clean, nil
}

// EscapeIdentifier makes an identifier safe to use as one path segment.
func EscapeIdentifier(identifier string) string {
	return url.PathEscape(identifier)
}
