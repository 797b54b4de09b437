package iiif

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/greut/jp2iiif/cache"
	"github.com/greut/jp2iiif/image"
)

// parseRequest reads the image request from the route variables.
func parseRequest(r *http.Request) (*image.Request, error) {
	id, err := identifier(r)
	if err != nil {
		return nil, err
	}

	vars := mux.Vars(r)
	params := make(map[string]string, 5)
	for _, name := range []string{"region", "size", "rotation", "quality", "format"} {
		v, err := url.PathUnescape(vars[name])
		if err != nil {
			return nil, HTTPError{http.StatusBadRequest, err.Error(), vars[name]}
		}
		params[name] = v
	}

	return image.NewRequest(id, params["region"], params["size"], params["rotation"], params["quality"], params["format"])
}

// contentDisposition names the file after the request, as an attachment
// when ?dl is set.
func contentDisposition(r *http.Request, req *image.Request) string {
	filename := strings.NewReplacer("/", "_", ":", "_", ",", "_", "!", "m", `"`, "").
		Replace(fmt.Sprintf("%s-%s-%s-%s-%s.%s", req.Identifier, req.Region, req.Size, req.Rotation, req.Quality, req.Extension()))

	disposition := "inline"
	if _, ok := r.URL.Query()["dl"]; ok {
		disposition = "attachment"
	}
	return fmt.Sprintf("%s; filename=%q", disposition, filename)
}

// ImageHandler responds to the IIIF 2.1 Image API.
func (s *Server) ImageHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}

	req, err := parseRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	meta, _, err := s.metadata(req.Identifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.authorize(w, r, meta) {
		return
	}

	can, err := req.Canonicalize(meta, s.opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.canEncode(can.Format) {
		message := fmt.Sprintf(formatMissing, string(can.Format))
		s.writeError(w, r, HTTPError{http.StatusNotImplemented, message, mux.Vars(r)["format"]})
		return
	}

	header := w.Header()
	canonicalURL := fmt.Sprintf("%s/%s", baseURL(r), can.Path())
	header.Set("Link", fmt.Sprintf("<%s>;rel=\"canonical\"", canonicalURL))

	if s.config.RedirectCanonical && !can.IsCanonical() {
		setCORS(header)
		http.Redirect(w, r, canonicalURL, http.StatusMovedPermanently)
		return
	}

	path, modTime, err := s.derivative(r.Context(), req, can, meta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("cannot read the derivative: %w", err))
		return
	}
	defer f.Close()

	header.Set("Content-Type", can.Format.MIMEType())
	header.Set("Content-Disposition", contentDisposition(r, req))
	setCORS(header)
	header.Set("ETag", getETag([]byte(can.Path())))
	header.Set("Cache-Control", fmt.Sprintf("max-age=%v, public", s.config.Cache.HTTP))
	http.ServeContent(w, r, "", modTime, f)
}

// derivative returns the file holding the derivative of req, producing it
// when it is not cached yet.
func (s *Server) derivative(ctx context.Context, req *image.Request, can *image.Canonical, meta *image.Metadata) (string, time.Time, error) {
	if path, modTime, err := s.derivatives.Get(req); err == nil {
		return path, modTime, nil
	}

	// an equivalent request may have been computed already
	if !can.IsCanonical() {
		if err := s.derivatives.Alias(req, meta); err == nil {
			return s.derivatives.Get(req)
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("cannot alias the derivative", "path", req.Path(), "error", err)
		}
	}

	canonical, err := image.ParsePath(can.Path())
	if err != nil {
		return "", time.Time{}, err
	}

	// the computation is shared, it must not be cancelled by the client
	// which happened to start it.
	ctx = context.WithoutCancel(ctx)

	_, err = s.derivativeGroup.Do(can.Path(), func() (interface{}, error) {
		if _, _, err := s.derivatives.Get(canonical); err == nil {
			return nil, nil
		}

		data, err := s.pipeline.Produce(ctx, meta.SourcePath, can, meta)
		if err != nil {
			return nil, err
		}
		return s.derivatives.Put(canonical, data, meta)
	})
	if err != nil {
		return "", time.Time{}, err
	}

	if !can.IsCanonical() {
		if err := s.derivatives.Alias(req, meta); err != nil {
			s.logger.Warn("cannot alias the derivative", "path", req.Path(), "error", err)
			return s.derivatives.Get(canonical)
		}
	}
	return s.derivatives.Get(req)
}
