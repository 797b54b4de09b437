package iiif

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/profile"
)

// baseURL is the scheme and host the client used, as seen through the
// reverse proxy if any.
func baseURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}

	return fmt.Sprintf("%s://%s", scheme, host)
}

// identifier reads the scrubbed identifier from the route variables.
func identifier(r *http.Request) (string, error) {
	raw := mux.Vars(r)["identifier"]
	id, err := image.ScrubIdentifier(raw)
	if err != nil || id == "" {
		return "", HTTPError{http.StatusBadRequest, fmt.Sprintf(identifierError, raw), raw}
	}
	return id, nil
}

// RedirectHandler sends the base URI of an image to its information.
func (s *Server) RedirectHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identifier(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setCORS(w.Header())
	location := fmt.Sprintf("%s/%s/info.json", baseURL(r), image.EscapeIdentifier(id))
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// InfoHandler responds to the image technical properties.
func (s *Server) InfoHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}

	id, err := identifier(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	meta, modTime, err := s.metadata(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.authorize(w, r, meta) {
		return
	}

	p := profile.New(fmt.Sprintf("%s/%s", baseURL(r), image.EscapeIdentifier(id)), meta, s.caps, s.extras)

	buffer, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("cannot create profile: %w", err))
		return
	}

	header := w.Header()

	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/ld+json") {
		header.Set("Content-Type", "application/ld+json")
	} else {
		header.Set("Content-Type", "application/json")
	}
	setCORS(header)
	header.Set("Link", fmt.Sprintf("<%s>;rel=\"profile\"", profile.Level2))
	header.Set("ETag", getETag(buffer))
	header.Set("Cache-Control", fmt.Sprintf("max-age=%v, public", s.config.Cache.HTTP))
	http.ServeContent(w, r, "info.json", modTime, bytes.NewReader(buffer))
}

func getETag(b []byte) string {
	return fmt.Sprintf("\"%x\"", sha1.Sum(b))
}
