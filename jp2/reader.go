package jp2

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ExtractionError reports a malformed or unsupported file. Box names the
// box or marker segment being read when it happened.
type ExtractionError struct {
	Box    string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jp2: %s: %s: %v", e.Box, e.Reason, e.Err)
	}
	return fmt.Sprintf("jp2: %s: %s", e.Box, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionError(box, format string, args ...interface{}) error {
	return &ExtractionError{Box: box, Reason: fmt.Sprintf(format, args...)}
}

// reader is a forward only reader where every fixed size field goes
// through readExact.
type reader struct {
	r      *bufio.Reader
	offset int64
}

func newReader(r io.Reader) *reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &reader{r: br}
}

// readExact reads exactly n bytes or fails with an error naming the box
// and the field.
func (r *reader) readExact(box, field string, n int) ([]byte, error) {
	if n < 0 {
		return nil, extractionError(box, "negative length for %s", field)
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(r.r, buf)
	r.offset += int64(read)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ExtractionError{
				Box:    box,
				Reason: fmt.Sprintf("truncated %s at offset %d (%d of %d bytes)", field, r.offset, read, n),
				Err:    io.ErrUnexpectedEOF,
			}
		}
		return nil, &ExtractionError{Box: box, Reason: "reading " + field, Err: err}
	}
	return buf, nil
}

func (r *reader) uint8(box, field string) (uint8, error) {
	b, err := r.readExact(box, field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16(box, field string) (uint16, error) {
	b, err := r.readExact(box, field, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32(box, field string) (uint32, error) {
	b, err := r.readExact(box, field, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// skip discards n bytes.
func (r *reader) skip(box string, n int64) error {
	if n < 0 {
		return extractionError(box, "negative skip of %d bytes", n)
	}
	skipped, err := io.CopyN(io.Discard, r.r, n)
	r.offset += skipped
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &ExtractionError{
				Box:    box,
				Reason: fmt.Sprintf("truncated at offset %d while skipping %d bytes", r.offset, n),
				Err:    io.ErrUnexpectedEOF,
			}
		}
		return &ExtractionError{Box: box, Reason: "skipping", Err: err}
	}
	return nil
}

// seek consumes the stream up to and including the first occurrence of
// pattern. The search slides over the input one byte at a time using the
// Knuth-Morris-Pratt failure table so no byte is ever read twice.
func (r *reader) seek(box string, pattern []byte) error {
	fail := failureTable(pattern)
	j := 0
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return extractionError(box, "not found before the end of the file")
			}
			return &ExtractionError{Box: box, Reason: "searching", Err: err}
		}
		r.offset++

		for j > 0 && b != pattern[j] {
			j = fail[j-1]
		}
		if b == pattern[j] {
			j++
		}
		if j == len(pattern) {
			return nil
		}
	}
}

// failureTable holds, for each prefix of pattern, the length of its longest
// proper prefix which is also a suffix.
func failureTable(pattern []byte) []int {
	fail := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = fail[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		fail[i] = k
	}
	return fail
}
