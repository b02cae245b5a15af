package pipeline

import (
	"errors"
	"fmt"
)

// Stable rejection and failure codes. Codes raised inside the
// canonicalizer and envelope validator pass through unchanged; these
// cover the stages above them.
const (
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeReplay             = "REPLAY"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeFuelExhausted      = "FUEL_EXHAUSTED"
	CodeNondeterminism     = "NONDETERMINISM"
	CodeTransformFailed    = "TRANSFORM_FAILED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeSignFailed         = "SIGN_FAILED"
	CodeChainAppendFailed  = "CHAIN_APPEND_FAILED"
)

// StageError is a pipeline failure that could not be converted into a
// sealed rejection receipt. Rejections that do seal a receipt are not
// errors: they come back as a normal Result with a reject decision.
type StageError struct {
	Stage Stage
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsStorageUnavailable reports whether err is a stage failure caused
// by the durable store being unreachable.
func IsStorageUnavailable(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Code == CodeStorageUnavailable
}
