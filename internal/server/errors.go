package server

import "net/http"

// FailureKind classifies pipeline failures. The kind alone determines the
// HTTP status; handlers never pick status codes ad hoc.
type FailureKind string

const (
	FailInvalidRequest FailureKind = "invalid_request"
	FailConversion     FailureKind = "conversion_failed"
	FailTimeout        FailureKind = "transcription_timeout"
	FailInternal       FailureKind = "internal"
)

var statusByKind = map[FailureKind]int{
	FailInvalidRequest: http.StatusBadRequest,
	FailConversion:     http.StatusBadRequest,
	FailTimeout:        http.StatusGatewayTimeout,
	FailInternal:       http.StatusInternalServerError,
}

// Failure is the single error variant the pipeline returns. Message is safe
// to expose to callers; Err carries the underlying cause for logs.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) HTTPStatus() int {
	if status, ok := statusByKind[f.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IncludesTextField reports whether the JSON error body carries an empty
// "text" field, letting clients uniformly read a text field on every
// transcription-path response.
func (f *Failure) IncludesTextField() bool {
	return f.Kind != FailInvalidRequest
}

func invalidRequest(msg string, err error) *Failure {
	return &Failure{Kind: FailInvalidRequest, Message: msg, Err: err}
}
