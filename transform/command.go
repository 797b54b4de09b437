package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/greut/jp2iiif/metrics"
)

// maxStderr bounds what is kept from the output of a decoder.
const maxStderr = 4096

// waitDelay is how long the pipes of a killed decoder may stay open.
const waitDelay = 2 * time.Second

// command runs an external decoder under a timeout.
type command struct {
	name    string
	path    string
	env     []string
	timeout time.Duration
	logger  *slog.Logger
}

type limitedBuffer struct {
	bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxStderr - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

// run executes the decoder and waits for it. Past the timeout the process
// is killed and the error is a TransformError whose Timeout is true.
func (c *command) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.path, args...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.WaitDelay = waitDelay

	var stderr limitedBuffer
	cmd.Stderr = &stderr

	c.logger.Debug("running decoder", "cmd", c.path, "args", strings.Join(args, " "))

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.RecordDecode(c.name, "timeout", duration.Seconds())
		c.logger.Error("decoder timed out",
			"cmd", c.path,
			"timeout", c.timeout,
			"duration", duration)
		return &TransformError{
			Op:     "decode",
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    fmt.Errorf("%s %w after %v", c.name, ErrTimeout, c.timeout),
		}
	case err != nil:
		metrics.RecordDecode(c.name, "error", duration.Seconds())
		c.logger.Error("decoder failed",
			"cmd", c.path,
			"error", err,
			"stderr", strings.TrimSpace(stderr.String()))
		return &TransformError{
			Op:     "decode",
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    fmt.Errorf("%s: %w", c.name, err),
		}
	}

	metrics.RecordDecode(c.name, "ok", duration.Seconds())
	c.logger.Debug("decoder done", "cmd", c.path, "duration", duration)
	return nil
}
