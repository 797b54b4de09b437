package transform

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is wrapped by the errors of the finishers which
// cannot encode the requested format.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ErrTimeout is wrapped by the errors of decoders which ran out of time.
var ErrTimeout = errors.New("timed out")

// TransformError reports a failure to produce a derivative. Op is the
// stage that failed and Stderr what the decoder had to say, if anything.
type TransformError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *TransformError) Error() string {
	msg := fmt.Sprintf("transform: %s: %v", e.Op, e.Err)
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Stderr)
	}
	return msg
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Timeout tells whether the decoder was killed for running too long.
func (e *TransformError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}
