package transform

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"strconv"

	"gopkg.in/h2non/bimg.v1"

	"github.com/greut/jp2iiif/config"
)

// Bitmap is a decoded image, encoded in a lossless format libvips reads.
type Bitmap struct {
	Data []byte
	// Windowed is set when the region has already been applied.
	Windowed bool
	// Scale is the reduction applied by the decoder, 1 being none.
	Scale int
}

// DecodeHint describes the part of the image to decode, in full resolution
// pixels, and the reduction to apply.
type DecodeHint struct {
	X, Y, W, H  int
	Full        bool
	Scale       int
	ImageWidth  int
	ImageHeight int
}

// reduce is the number of resolution levels to discard.
func (h DecodeHint) reduce() int {
	if h.Scale <= 1 {
		return 0
	}
	return bits.Len(uint(h.Scale)) - 1
}

// Decoder turns a source file into a bitmap.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, src string, hint DecodeHint) (*Bitmap, error)
}

// NewDecoder builds the decoder called name.
func NewDecoder(name string, cfg config.Transform, logger *slog.Logger) (Decoder, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("decoder", name)

	switch name {
	case config.DecoderKakadu:
		cmd := command{
			name:    name,
			path:    cfg.KduExpand,
			timeout: cfg.Timeout.Duration,
			logger:  logger,
		}
		if cfg.KduLibs != "" {
			cmd.env = []string{"LD_LIBRARY_PATH=" + cfg.KduLibs}
		}
		return &KakaduDecoder{cmd: cmd, tmpDir: cfg.TmpDir}, nil
	case config.DecoderOpenJPEG:
		cmd := command{
			name:    name,
			path:    cfg.OpjDecompress,
			timeout: cfg.Timeout.Duration,
			logger:  logger,
		}
		return &OpenJPEGDecoder{cmd: cmd, tmpDir: cfg.TmpDir}, nil
	case config.DecoderVips:
		return &VipsDecoder{}, nil
	}
	return nil, &config.ConfigError{Key: "transform.decoder", Reason: fmt.Sprintf("unknown decoder %#v", name)}
}

// decodeToFile runs the command with the output file it is given and reads
// the result back. The output file is always removed.
func decodeToFile(ctx context.Context, cmd *command, tmpDir string, args func(out string) []string) ([]byte, error) {
	f, err := os.CreateTemp(tmpDir, "decode-*.tif")
	if err != nil {
		return nil, &TransformError{Op: "decode", Err: err}
	}
	out := f.Name()
	f.Close()
	defer os.Remove(out)

	if err := cmd.run(ctx, args(out)...); err != nil {
		return nil, err
	}

	data, err := bimg.Read(out)
	if err != nil {
		return nil, &TransformError{Op: "decode", Err: fmt.Errorf("reading the %s output: %w", cmd.name, err)}
	}
	if len(data) == 0 {
		return nil, &TransformError{Op: "decode", Err: fmt.Errorf("%s produced nothing", cmd.name)}
	}
	return data, nil
}

// KakaduDecoder runs kdu_expand.
type KakaduDecoder struct {
	cmd    command
	tmpDir string
}

// Name implements Decoder.
func (d *KakaduDecoder) Name() string {
	return d.cmd.name
}

func (d *KakaduDecoder) args(src, out string, hint DecodeHint) []string {
	args := []string{"-i", src, "-o", out, "-quiet"}
	if !hint.Full {
		// {top,left},{height,width} as fractions of the image
		top := float64(hint.Y) / float64(hint.ImageHeight)
		left := float64(hint.X) / float64(hint.ImageWidth)
		height := float64(hint.H) / float64(hint.ImageHeight)
		width := float64(hint.W) / float64(hint.ImageWidth)
		args = append(args, "-region", fmt.Sprintf("{%s,%s},{%s,%s}",
			fraction(top), fraction(left), fraction(height), fraction(width)))
	}
	if r := hint.reduce(); r > 0 {
		args = append(args, "-reduce", strconv.Itoa(r))
	}
	return args
}

// Decode implements Decoder.
func (d *KakaduDecoder) Decode(ctx context.Context, src string, hint DecodeHint) (*Bitmap, error) {
	data, err := decodeToFile(ctx, &d.cmd, d.tmpDir, func(out string) []string {
		return d.args(src, out, hint)
	})
	if err != nil {
		return nil, err
	}
	return &Bitmap{Data: data, Windowed: true, Scale: max(hint.Scale, 1)}, nil
}

// OpenJPEGDecoder runs opj_decompress.
type OpenJPEGDecoder struct {
	cmd    command
	tmpDir string
}

// Name implements Decoder.
func (d *OpenJPEGDecoder) Name() string {
	return d.cmd.name
}

func (d *OpenJPEGDecoder) args(src, out string, hint DecodeHint) []string {
	args := []string{"-i", src, "-o", out, "-quiet"}
	if !hint.Full {
		args = append(args, "-d", fmt.Sprintf("%d,%d,%d,%d",
			hint.X, hint.Y, hint.X+hint.W, hint.Y+hint.H))
	}
	if r := hint.reduce(); r > 0 {
		args = append(args, "-r", strconv.Itoa(r))
	}
	return args
}

// Decode implements Decoder.
func (d *OpenJPEGDecoder) Decode(ctx context.Context, src string, hint DecodeHint) (*Bitmap, error) {
	data, err := decodeToFile(ctx, &d.cmd, d.tmpDir, func(out string) []string {
		return d.args(src, out, hint)
	})
	if err != nil {
		return nil, err
	}
	return &Bitmap{Data: data, Windowed: true, Scale: max(hint.Scale, 1)}, nil
}

// VipsDecoder lets libvips load the source itself, at full resolution and
// without windowing.
type VipsDecoder struct{}

// Name implements Decoder.
func (d *VipsDecoder) Name() string {
	return config.DecoderVips
}

// Decode implements Decoder.
func (d *VipsDecoder) Decode(ctx context.Context, src string, hint DecodeHint) (*Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransformError{Op: "decode", Err: err}
	}
	data, err := bimg.Read(src)
	if err != nil {
		return nil, &TransformError{Op: "decode", Err: err}
	}
	return &Bitmap{Data: data, Windowed: hint.Full, Scale: 1}, nil
}

func fraction(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
