package image

import (
	"fmt"
)

// error messages
var regionError = "IIIF 2.1 `region` argument is not recognized: %#v"
var sizeError = "IIIF 2.1 `size` argument is not recognized: %#v"
var rotationError = "IIIF 2.1 `rotation` argument is not recognized: %#v"
var qualityError = "IIIF 2.1 `quality` argument is not recognized: %#v"
var formatError = "IIIF 2.1 `format` argument is not recognized: %#v"

// SyntaxError is returned when a parameter cannot be parsed at all.
type SyntaxError struct {
	Param  string
	Value  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s %#v: %s", e.Param, e.Value, e.Reason)
}

// RangeError is returned when a parameter is well-formed but cannot be
// satisfied for the image it is applied to.
type RangeError struct {
	Param  string
	Value  string
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %#v: %s", e.Param, e.Value, e.Reason)
}

func syntaxError(param, value, format string, args ...interface{}) error {
	return &SyntaxError{param, value, fmt.Sprintf(format, args...)}
}

func rangeError(param, value, format string, args ...interface{}) error {
	return &RangeError{param, value, fmt.Sprintf(format, args...)}
}
