// Package iiif serves the IIIF Image API 2.1 over HTTP.
package iiif

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/golang/groupcache/singleflight"
	"github.com/gorilla/mux"

	"github.com/greut/jp2iiif/cache"
	"github.com/greut/jp2iiif/config"
	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/profile"
	"github.com/greut/jp2iiif/source"
	"github.com/greut/jp2iiif/transform"
)

// Deps are the components a Server is built from.
type Deps struct {
	Config      *config.Config
	Resolver    source.Resolver
	Infos       *cache.InfoCache
	Derivatives *cache.DerivativeCache
	Pipeline    *transform.Pipeline
	// Authorizer defaults to AllowAll.
	Authorizer Authorizer
	Logger     *slog.Logger
}

// Server answers the info, image and redirect requests.
type Server struct {
	config      *config.Config
	resolver    source.Resolver
	infos       *cache.InfoCache
	derivatives *cache.DerivativeCache
	pipeline    *transform.Pipeline
	authorizer  Authorizer
	logger      *slog.Logger

	opts     image.Options
	caps     profile.Capabilities
	extras   *profile.Extras
	maxICC   int64
	failures *failureCache

	// a single request computes a given metadata or derivative while the
	// others wait for its result. The two key spaces overlap.
	infoGroup       singleflight.Group
	derivativeGroup singleflight.Group
}

// NewServer checks the dependencies and builds a server from them.
func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Resolver == nil || deps.Infos == nil || deps.Derivatives == nil || deps.Pipeline == nil {
		return nil, errors.New("iiif: the configuration, resolver, caches and pipeline are required")
	}

	cfg := deps.Config

	formats, err := cfg.Formats()
	if err != nil {
		return nil, err
	}
	extras, err := profile.DecodeExtras(cfg.Info.Extras)
	if err != nil {
		return nil, err
	}
	maxICC, err := cfg.MaxICCBytes()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	authorizer := deps.Authorizer
	if authorizer == nil {
		authorizer = AllowAll{}
	}

	opts := cfg.ImageOptions()

	s := Server{
		config:      cfg,
		resolver:    deps.Resolver,
		infos:       deps.Infos,
		derivatives: deps.Derivatives,
		pipeline:    deps.Pipeline,
		authorizer:  authorizer,
		logger:      logger.With("component", "iiif"),
		opts:        opts,
		caps: profile.Capabilities{
			Formats:           formats,
			MaxWidth:          opts.MaxWidth,
			MaxHeight:         opts.MaxHeight,
			MaxArea:           opts.MaxArea,
			AllowUpsampling:   opts.AllowUpsampling,
			CanonicalRedirect: cfg.RedirectCanonical,
		},
		extras:   extras,
		maxICC:   maxICC,
		failures: newFailureCache(cfg.Cache.FailureTTL.Duration, cfg.Cache.FailureEntries),
	}
	return &s, nil
}

// MakeRouter construct the basic router (no middlewares)
func (s *Server) MakeRouter() *mux.Router {
	router := mux.NewRouter()
	// identifiers may contain encoded slashes
	router.UseEncodedPath()

	router.HandleFunc("/{identifier:.*}/info.json", s.InfoHandler).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions).
		Name("info")
	router.HandleFunc("/{identifier:.*}/{region}/{size}/{rotation}/{quality}.{format}", s.ImageHandler).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions).
		Name("image")
	router.HandleFunc("/{identifier:.+}", s.RedirectHandler).
		Methods(http.MethodGet, http.MethodHead).
		Name("redirect")

	return router
}

// Handler is the router with the logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	router := s.MakeRouter()
	router.Use(WithRequestLog(s.logger))
	return router
}

// canEncode tells whether the format is both advertised and supported by
// the finisher.
func (s *Server) canEncode(format image.Format) bool {
	for _, f := range s.caps.Formats {
		if f == format {
			return s.pipeline.CanEncode(format)
		}
	}
	return false
}
