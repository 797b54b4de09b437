package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greut/jp2iiif/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestLoggerIsNotGlobal(t *testing.T) {
	before := slog.Default()

	logger := newLogger("debug")
	assert.NotSame(t, before, logger)
	assert.Same(t, before, slog.Default())
}

func TestNewHandler(t *testing.T) {
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	require.NoError(t, os.Mkdir(images, 0o755))

	cfg := config.Default()
	cfg.Images.Roots = []string{images}
	cfg.Cache.InfoPath = filepath.Join(dir, "info")
	cfg.Cache.DerivativesPath = filepath.Join(dir, "derivatives")
	cfg.Transform.Decoder = config.DecoderVips
	require.NoError(t, cfg.Validate())

	handler, err := newHandler(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/missing.jp2/info.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewHandlerUnknownDecoder(t *testing.T) {
	cfg := config.Default()
	cfg.Images.Roots = []string{t.TempDir()}
	cfg.Cache.InfoPath = filepath.Join(t.TempDir(), "info")
	cfg.Cache.DerivativesPath = filepath.Join(t.TempDir(), "derivatives")
	cfg.Transform.Decoder = "imagemagick"

	_, err := newHandler(cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
