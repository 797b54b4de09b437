package transform

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greut/jp2iiif/config"
)

// script writes an executable shell script standing for a decoder.
func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	path := filepath.Join(t.TempDir(), "decoder.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func transformConfig(path, tmpDir string, timeout time.Duration) config.Transform {
	return config.Transform{
		KduExpand:     path,
		OpjDecompress: path,
		Timeout:       config.Duration{Duration: timeout},
		TmpDir:        tmpDir,
	}
}

func TestKakaduArgs(t *testing.T) {
	d := &KakaduDecoder{cmd: command{name: config.DecoderKakadu}}

	hint := DecodeHint{X: 250, Y: 200, W: 500, H: 400, Scale: 4, ImageWidth: 1000, ImageHeight: 800}
	assert.Equal(t,
		[]string{"-i", "in.jp2", "-o", "out.tif", "-quiet", "-region", "{0.25,0.25},{0.5,0.5}", "-reduce", "2"},
		d.args("in.jp2", "out.tif", hint))

	hint = DecodeHint{Full: true, Scale: 1, ImageWidth: 1000, ImageHeight: 800}
	assert.Equal(t, []string{"-i", "in.jp2", "-o", "out.tif", "-quiet"}, d.args("in.jp2", "out.tif", hint))
}

func TestOpenJPEGArgs(t *testing.T) {
	d := &OpenJPEGDecoder{cmd: command{name: config.DecoderOpenJPEG}}

	hint := DecodeHint{X: 250, Y: 200, W: 500, H: 400, Scale: 8, ImageWidth: 1000, ImageHeight: 800}
	assert.Equal(t,
		[]string{"-i", "in.jp2", "-o", "out.tif", "-quiet", "-d", "250,200,750,600", "-r", "3"},
		d.args("in.jp2", "out.tif", hint))
}

func TestNewDecoder(t *testing.T) {
	for _, name := range []string{config.DecoderKakadu, config.DecoderOpenJPEG, config.DecoderVips} {
		d, err := NewDecoder(name, config.Transform{}, nil)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	_, err := NewDecoder("magick", config.Transform{}, nil)
	var ce *config.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestDecodeSuccess(t *testing.T) {
	// $4 is the output file
	path := script(t, `printf 'decoded' > "$4"`)
	tmpDir := t.TempDir()

	d, err := NewDecoder(config.DecoderOpenJPEG, transformConfig(path, tmpDir, 5*time.Second), nil)
	require.NoError(t, err)

	bmp, err := d.Decode(context.Background(), "in.jp2", DecodeHint{Full: true, Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("decoded"), bmp.Data)
	assert.True(t, bmp.Windowed)
	assert.Equal(t, 2, bmp.Scale)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeTimeout(t *testing.T) {
	path := script(t, "exec sleep 10")
	tmpDir := t.TempDir()
	timeout := 200 * time.Millisecond

	d, err := NewDecoder(config.DecoderKakadu, transformConfig(path, tmpDir, timeout), nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = d.Decode(context.Background(), "in.jp2", DecodeHint{Full: true})
	elapsed := time.Since(start)

	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.Less(t, elapsed, timeout+time.Second)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the output file must be removed")
}

func TestDecodeFailure(t *testing.T) {
	path := script(t, "echo 'Kakadu Error: bad codestream' >&2\nexit 3")
	tmpDir := t.TempDir()

	d, err := NewDecoder(config.DecoderKakadu, transformConfig(path, tmpDir, 5*time.Second), nil)
	require.NoError(t, err)

	_, err = d.Decode(context.Background(), "in.jp2", DecodeHint{Full: true})

	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout())
	assert.Equal(t, "Kakadu Error: bad codestream", te.Stderr)
	assert.Contains(t, te.Error(), "bad codestream")

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeEmptyOutput(t *testing.T) {
	path := script(t, "exit 0")

	d, err := NewDecoder(config.DecoderKakadu, transformConfig(path, t.TempDir(), 5*time.Second), nil)
	require.NoError(t, err)

	_, err = d.Decode(context.Background(), "in.jp2", DecodeHint{Full: true})
	var te *TransformError
	assert.ErrorAs(t, err, &te)
}

func TestLimitedBuffer(t *testing.T) {
	var b limitedBuffer
	big := make([]byte, maxStderr+10)
	n, err := b.Write(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)
	assert.Equal(t, maxStderr, b.Len())
}
