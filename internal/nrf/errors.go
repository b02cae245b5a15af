package nrf

import "fmt"

// Canonicalization error codes. These are stable machine-readable
// codes surfaced verbatim through KNOCK rejections; never rename one.
const (
	CodeInvalidUTF8     = "INVALID_UTF8"
	CodeMalformedJSON   = "MALFORMED_JSON"
	CodeDuplicateKey    = "DUPLICATE_KEY"
	CodeFloatForbidden  = "FLOAT_FORBIDDEN"
	CodeNullForbidden   = "NULL_FORBIDDEN"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
)

// CanonError reports why input has no canonical form. Canonicalization
// fails closed: there is no best-effort output to accompany the error.
type CanonError struct {
	Code    string // one of the Code* constants
	Path    string // JSON path of the offending value, e.g. "$.actor.did"
	Message string
}

func (e *CanonError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
