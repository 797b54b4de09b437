package iiif

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/greut/jp2iiif/image"
	"github.com/greut/jp2iiif/jp2"
	"github.com/greut/jp2iiif/source"
	"github.com/greut/jp2iiif/transform"
)

// error messages
var formatMissing = "this server cannot output the format %#v"
var identifierError = "the identifier cannot be read: %#v"

// HTTPError represents a HTTP error to be shown to the user.
type HTTPError struct {
	StatusCode int
	Message    string
	// Parameter is the raw value of the offending request parameter.
	Parameter string
}

// Error formats the HTTPError message.
func (e HTTPError) Error() string {
	return fmt.Sprintf("%d (%s) %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

type errorBody struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Parameter string `json:"parameter,omitempty"`
	Message   string `json:"message"`
}

// toHTTPError maps the errors of the components to a status code.
func toHTTPError(err error) HTTPError {
	var (
		he  HTTPError
		se  *image.SyntaxError
		re  *image.RangeError
		ee  *jp2.ExtractionError
		rse *source.ResolverError
		te  *transform.TransformError
	)

	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &se):
		return HTTPError{http.StatusBadRequest, se.Reason, se.Value}
	case errors.As(err, &re):
		return HTTPError{http.StatusBadRequest, re.Reason, re.Value}
	case errors.As(err, &rse):
		return HTTPError{http.StatusNotFound, rse.Error(), rse.Identifier}
	case errors.As(err, &ee):
		return HTTPError{StatusCode: http.StatusInternalServerError, Message: ee.Error()}
	case errors.Is(err, transform.ErrUnsupportedFormat):
		return HTTPError{StatusCode: http.StatusNotImplemented, Message: err.Error()}
	case errors.As(err, &te) && te.Timeout():
		return HTTPError{StatusCode: http.StatusGatewayTimeout, Message: te.Error()}
	case errors.As(err, &te):
		return HTTPError{StatusCode: http.StatusInternalServerError, Message: te.Error()}
	}
	return HTTPError{StatusCode: http.StatusInternalServerError, Message: err.Error()}
}

// writeError renders err as a JSON document.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := toHTTPError(err)

	if e.StatusCode >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", e.StatusCode, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", e.StatusCode, "error", err)
	}

	body, _ := json.Marshal(errorBody{
		Status:    e.StatusCode,
		Error:     http.StatusText(e.StatusCode),
		Parameter: e.Parameter,
		Message:   e.Message,
	})

	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("X-Content-Type-Options", "nosniff")
	setCORS(header)
	w.WriteHeader(e.StatusCode)
	w.Write(body)
}
