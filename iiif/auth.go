package iiif

import (
	"net/http"

	"github.com/greut/jp2iiif/image"
)

// Decision is the outcome of an authorization.
type Decision int

// Authorization outcomes.
const (
	Allow Decision = iota
	Deny
	Redirect
)

// Authorizer decides whether the image may be served to the client. It is
// consulted once the metadata is known and before any derivative is
// produced. For Redirect, location is where the client is sent.
type Authorizer interface {
	Authorize(r *http.Request, meta *image.Metadata) (decision Decision, location string)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(r *http.Request, meta *image.Metadata) (Decision, string)

// Authorize calls f.
func (f AuthorizerFunc) Authorize(r *http.Request, meta *image.Metadata) (Decision, string) {
	return f(r, meta)
}

// AllowAll lets everything through.
type AllowAll struct{}

// Authorize always allows.
func (AllowAll) Authorize(*http.Request, *image.Metadata) (Decision, string) {
	return Allow, ""
}

// authorize applies the decision, it returns false when the response has
// already been written.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, meta *image.Metadata) bool {
	decision, location := s.authorizer.Authorize(r, meta)
	switch decision {
	case Allow:
		return true
	case Redirect:
		setCORS(w.Header())
		http.Redirect(w, r, location, http.StatusFound)
	default:
		s.writeError(w, r, HTTPError{StatusCode: http.StatusUnauthorized, Message: "access to this image is denied", Parameter: meta.Identifier})
	}
	return false
}
