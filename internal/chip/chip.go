// Package chip defines the chip envelope: the structured document a
// caller submits for execution, with its four anchor fields and the
// deterministic subject identity derived for replay scoping.
package chip

import (
	"fmt"
	"strings"

	"github.com/tracefold/chipline/internal/nrf"
)

// Anchor field names. Every chip carries all four; the optional fields
// refine admission and provenance.
const (
	FieldType    = "@type"
	FieldID      = "@id"
	FieldVer     = "@ver"
	FieldWorld   = "@world"
	FieldNonce   = "@nonce"   // optional caller-pinned replay nonce
	FieldParents = "@parents" // optional parent chip CIDs
)

// MaxEnvelopeBytes bounds raw submissions before any parsing happens.
const MaxEnvelopeBytes = 1 << 20

// Validation error codes surfaced through KNOCK rejections.
const (
	CodeMissingAnchor = "MISSING_ANCHOR"
	CodeInvalidWorld  = "INVALID_WORLD"
	CodeInvalidField  = "INVALID_FIELD"
)

// ValidationError reports a structural problem with an envelope.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// Envelope is a validated chip document. Immutable once built: the
// Body is canonicalized exactly once and the resulting CID is
// permanent.
type Envelope struct {
	Type    string
	ID      string
	Ver     string
	World   string
	Nonce   string   // empty when the caller did not pin one
	Parents []string // declared dependency CIDs, given order preserved
	Body    nrf.Object
}

// Parse validates a decoded document as a chip envelope.
// The four anchors are required strings; @nonce and @parents are
// optional but must be well-formed when present.
func Parse(v nrf.Value) (*Envelope, error) {
	body, ok := v.(nrf.Object)
	if !ok {
		return nil, &ValidationError{Code: CodeInvalidField, Field: "$", Message: "chip body must be an object"}
	}

	env := &Envelope{Body: body}
	var err error
	if env.Type, err = requiredString(body, FieldType); err != nil {
		return nil, err
	}
	if env.ID, err = requiredString(body, FieldID); err != nil {
		return nil, err
	}
	if env.Ver, err = requiredString(body, FieldVer); err != nil {
		return nil, err
	}
	if env.World, err = requiredString(body, FieldWorld); err != nil {
		return nil, err
	}
	if err := ValidateWorld(env.World); err != nil {
		return nil, err
	}

	if raw, present := body[FieldNonce]; present {
		s, ok := raw.(nrf.String)
		if !ok || s == "" {
			return nil, &ValidationError{Code: CodeInvalidField, Field: FieldNonce, Message: "must be a non-empty string"}
		}
		env.Nonce = string(s)
	}

	if raw, present := body[FieldParents]; present {
		arr, ok := raw.(nrf.Array)
		if !ok {
			return nil, &ValidationError{Code: CodeInvalidField, Field: FieldParents, Message: "must be an array of CIDs"}
		}
		env.Parents = make([]string, 0, len(arr))
		for i, elem := range arr {
			s, ok := elem.(nrf.String)
			if !ok || !nrf.ValidCID(string(s)) {
				return nil, &ValidationError{
					Code:    CodeInvalidField,
					Field:   fmt.Sprintf("%s[%d]", FieldParents, i),
					Message: "must be a well-formed CID",
				}
			}
			env.Parents = append(env.Parents, string(s))
		}
	}

	return env, nil
}

func requiredString(body nrf.Object, field string) (string, error) {
	raw, present := body[field]
	if !present {
		return "", &ValidationError{Code: CodeMissingAnchor, Field: field, Message: "required anchor field is missing"}
	}
	s, ok := raw.(nrf.String)
	if !ok || s == "" {
		return "", &ValidationError{Code: CodeMissingAnchor, Field: field, Message: "must be a non-empty string"}
	}
	return string(s), nil
}

// ValidateWorld checks the namespace tag shape: slash-separated
// segments of lowercase letters, digits, '-' and '_', rooted at "a/"
// (e.g. "a/demo" or "a/demo/t/main").
func ValidateWorld(world string) error {
	if len(world) > 256 {
		return &ValidationError{Code: CodeInvalidWorld, Field: FieldWorld, Message: "world tag too long"}
	}
	segs := strings.Split(world, "/")
	if len(segs) < 2 || segs[0] != "a" {
		return &ValidationError{Code: CodeInvalidWorld, Field: FieldWorld, Message: `world tag must start with "a/"`}
	}
	for _, seg := range segs {
		if seg == "" {
			return &ValidationError{Code: CodeInvalidWorld, Field: FieldWorld, Message: "empty world segment"}
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
				return &ValidationError{Code: CodeInvalidWorld, Field: FieldWorld, Message: fmt.Sprintf("invalid character %q in world segment", c)}
			}
		}
	}
	return nil
}

// CanonicalBytes returns the envelope's unique byte encoding.
func (e *Envelope) CanonicalBytes() ([]byte, error) {
	return nrf.MarshalCanonical(e.Body)
}

// CID canonicalizes the envelope and derives its content identifier.
func (e *Envelope) CID() (string, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return nrf.ComputeCID(b), nil
}
