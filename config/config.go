// Package config loads the TOML configuration of the image server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/BurntSushi/toml"

	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/profile"
)

// Decoders and dithering strategies.
const (
	DecoderKakadu   = "kakadu"
	DecoderOpenJPEG = "openjpeg"
	DecoderVips     = "vips"

	DitherFloydSteinberg = "floyd-steinberg"
	DitherThreshold      = "threshold"

	ResolverDisk = "disk"
)

// ConfigError reports an invalid configuration key.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Duration is a time.Duration read from a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config stores the IIIF server configuration.
type Config struct {
	Host              string    `toml:"host"`
	Port              int       `toml:"port"`
	MetricsPort       int       `toml:"metrics_port"`
	LogLevel          string    `toml:"log_level"`
	RedirectCanonical bool      `toml:"redirect_canonical"`
	Images            Images    `toml:"images"`
	Cache             Cache     `toml:"cache"`
	Transform         Transform `toml:"transform"`
	Limits            Limits    `toml:"limits"`
	Info              Info      `toml:"info"`
}

// Images is where the source images are found.
type Images struct {
	Resolver string   `toml:"resolver"`
	Roots    []string `toml:"roots"`
	// MaxICCSize bounds the embedded color profiles, e.g. "4M".
	MaxICCSize string `toml:"max_icc_size"`
}

// Cache represents the configuration information regarding the caches.
type Cache struct {
	InfoPath        string `toml:"info_path"`
	InfoEntries     int    `toml:"info_entries"`
	DerivativesPath string `toml:"derivatives_path"`
	// HTTP is the max-age of the responses, in seconds.
	HTTP           int64    `toml:"http"`
	FailureTTL     Duration `toml:"failure_ttl"`
	FailureEntries int      `toml:"failure_entries"`
}

// Transform configures the decoders and the finishing of the images.
type Transform struct {
	Decoder       string   `toml:"decoder"`
	KduExpand     string   `toml:"kdu_expand"`
	KduLibs       string   `toml:"kdu_libs"`
	OpjDecompress string   `toml:"opj_decompress"`
	Timeout       Duration `toml:"timeout"`
	TmpDir        string   `toml:"tmp_dir"`
	OutputICC     string   `toml:"output_icc"`
	Dither        string   `toml:"dither"`
	JPEGQuality   int      `toml:"jpeg_quality"`
	WebPQuality   int      `toml:"webp_quality"`
}

// Limits bounds the size of the derivatives.
type Limits struct {
	MaxWidth        int  `toml:"max_width"`
	MaxHeight       int  `toml:"max_height"`
	MaxArea         int  `toml:"max_area"`
	AllowUpsampling bool `toml:"allow_upsampling"`
}

// Info configures the information documents.
type Info struct {
	Formats []string               `toml:"formats"`
	Extras  map[string]interface{} `toml:"extras"`
}

// Default returns the configuration used for missing keys.
func Default() *Config {
	return &Config{
		Host:        "localhost",
		Port:        8080,
		MetricsPort: 9090,
		LogLevel:    "info",
		Images: Images{
			Resolver:   ResolverDisk,
			MaxICCSize: "16M",
		},
		Cache: Cache{
			InfoPath:        "cache/info",
			InfoEntries:     500,
			DerivativesPath: "cache/derivatives",
			HTTP:            86400,
			FailureTTL:      Duration{time.Minute},
			FailureEntries:  1000,
		},
		Transform: Transform{
			Decoder:       DecoderKakadu,
			KduExpand:     "kdu_expand",
			OpjDecompress: "opj_decompress",
			Timeout:       Duration{2 * time.Minute},
			TmpDir:        os.TempDir(),
			Dither:        DitherFloydSteinberg,
			JPEGQuality:   90,
			WebPQuality:   85,
		},
		Info: Info{
			Formats: []string{"jpg", "png", "gif", "webp", "tif"},
		},
	}
}

// Load reads the configuration file at path on top of the defaults and
// validates it.
func Load(path string) (*Config, error) {
	c := Default()

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, &ConfigError{Key: path, Reason: "cannot decode", Err: err}
	}

	for _, key := range md.Undecoded() {
		// info.extras is free form, its keys are checked by Validate
		if len(key) > 2 && key[0] == "info" && key[1] == "extras" {
			continue
		}
		return nil, &ConfigError{Key: key.String(), Reason: "unknown key"}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every value, the first invalid one is reported.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...interface{}) error {
		return &ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
	}

	if c.Port <= 0 || c.Port > 65535 {
		return invalid("port", "%d is not a valid port", c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return invalid("metrics_port", "%d is not a valid port", c.MetricsPort)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level", "unknown level %#v", c.LogLevel)
	}

	if c.Images.Resolver != ResolverDisk {
		return invalid("images.resolver", "unknown resolver %#v", c.Images.Resolver)
	}
	if len(c.Images.Roots) == 0 {
		return invalid("images.roots", "at least one root is required")
	}
	for _, root := range c.Images.Roots {
		stat, err := os.Stat(root)
		if err != nil {
			return &ConfigError{Key: "images.roots", Reason: "unreadable root", Err: err}
		}
		if !stat.IsDir() {
			return invalid("images.roots", "%#v is not a directory", root)
		}
	}
	if _, err := c.MaxICCBytes(); err != nil {
		return &ConfigError{Key: "images.max_icc_size", Reason: "invalid size", Err: err}
	}

	if c.Cache.InfoPath == "" {
		return invalid("cache.info_path", "a directory is required")
	}
	if c.Cache.DerivativesPath == "" {
		return invalid("cache.derivatives_path", "a directory is required")
	}
	if c.Cache.InfoEntries < 0 {
		return invalid("cache.info_entries", "cannot be negative")
	}
	if c.Cache.HTTP < 0 {
		return invalid("cache.http", "cannot be negative")
	}
	if c.Cache.FailureTTL.Duration < 0 {
		return invalid("cache.failure_ttl", "cannot be negative")
	}
	if c.Cache.FailureEntries < 0 {
		return invalid("cache.failure_entries", "cannot be negative")
	}

	t := c.Transform
	switch t.Decoder {
	case DecoderKakadu, DecoderOpenJPEG, DecoderVips:
	default:
		return invalid("transform.decoder", "unknown decoder %#v", t.Decoder)
	}
	if t.Timeout.Duration <= 0 {
		return invalid("transform.timeout", "must be positive")
	}
	switch t.Dither {
	case DitherFloydSteinberg, DitherThreshold:
	default:
		return invalid("transform.dither", "unknown dithering %#v", t.Dither)
	}
	if t.OutputICC != "" {
		f, err := os.Open(t.OutputICC)
		if err != nil {
			return &ConfigError{Key: "transform.output_icc", Reason: "unreadable profile", Err: err}
		}
		f.Close()
	}
	if t.JPEGQuality < 1 || t.JPEGQuality > 100 {
		return invalid("transform.jpeg_quality", "%d is not within 1 and 100", t.JPEGQuality)
	}
	if t.WebPQuality < 1 || t.WebPQuality > 100 {
		return invalid("transform.webp_quality", "%d is not within 1 and 100", t.WebPQuality)
	}

	if c.Limits.MaxWidth < 0 || c.Limits.MaxHeight < 0 || c.Limits.MaxArea < 0 {
		return invalid("limits", "cannot be negative")
	}

	if _, err := c.Formats(); err != nil {
		return &ConfigError{Key: "info.formats", Reason: "unknown format", Err: err}
	}
	if _, err := profile.DecodeExtras(c.Info.Extras); err != nil {
		return &ConfigError{Key: "info.extras", Reason: "invalid fields", Err: err}
	}

	return nil
}

// MaxICCBytes is the parsed images.max_icc_size.
func (c *Config) MaxICCBytes() (int64, error) {
	if c.Images.MaxICCSize == "" {
		return 0, nil
	}
	n, err := bytefmt.ToBytes(c.Images.MaxICCSize)
	if err != nil {
		return 0, err
	}
	if n > 1<<31 {
		return 0, errors.New("larger than 2GB")
	}
	return int64(n), nil
}

// Formats are the output formats advertised.
func (c *Config) Formats() ([]image.Format, error) {
	formats := make([]image.Format, 0, len(c.Info.Formats))
	for _, f := range c.Info.Formats {
		format, err := image.ParseFormat(f)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	return formats, nil
}

// ImageOptions are the limits applied to the requests.
func (c *Config) ImageOptions() image.Options {
	return image.Options{
		MaxWidth:        c.Limits.MaxWidth,
		MaxHeight:       c.Limits.MaxHeight,
		MaxArea:         c.Limits.MaxArea,
		AllowUpsampling: c.Limits.AllowUpsampling,
	}
}
