package nrf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decode parses raw JSON bytes into an NRF value under fail-closed
// rules. Anything the canonical form cannot represent uniquely is an
// error, never a best-effort value:
//
//   - invalid UTF-8 anywhere in the input
//   - duplicate object keys
//   - null
//   - number literals with a fraction or exponent (floats have no
//     canonical bytes; use a Dec-style string instead)
//   - integers outside int64
//   - trailing data after the document
func Decode(raw []byte) (Value, error) {
	if !utf8.Valid(raw) {
		return nil, &CanonError{Code: CodeInvalidUTF8, Path: "$", Message: "input is not valid UTF-8"}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	v, err := decodeValue(dec, "$")
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &CanonError{Code: CodeMalformedJSON, Path: "$", Message: "trailing data after document"}
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, path string) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: err.Error()}
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec, path)
		case '[':
			return decodeArray(dec, path)
		}
		return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: fmt.Sprintf("unexpected %q", t.String())}
	case string:
		if !utf8.ValidString(t) {
			return nil, &CanonError{Code: CodeInvalidUTF8, Path: path, Message: "string is not valid UTF-8"}
		}
		return String(t), nil
	case json.Number:
		return decodeNumber(t, path)
	case bool:
		return Bool(t), nil
	case nil:
		return nil, &CanonError{Code: CodeNullForbidden, Path: path, Message: "null is forbidden"}
	default:
		return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: fmt.Sprintf("unexpected token %v", tok)}
	}
}

func decodeNumber(n json.Number, path string) (Value, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return nil, &CanonError{
			Code:    CodeFloatForbidden,
			Path:    path,
			Message: fmt.Sprintf("non-integer number literal %q: encode decimals as canonical strings", s),
		}
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: fmt.Sprintf("integer %q out of int64 range", s)}
	}
	return Int(i), nil
}

func decodeObject(dec *json.Decoder, path string) (Value, error) {
	obj := Object{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: err.Error()}
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: "object key is not a string"}
		}
		if _, dup := obj[key]; dup {
			return nil, &CanonError{Code: CodeDuplicateKey, Path: path, Message: fmt.Sprintf("duplicate key %q", key)}
		}
		val, err := decodeValue(dec, path+"."+key)
		if err != nil {
			return nil, err
		}
		obj[key] = val
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: err.Error()}
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder, path string) (Value, error) {
	arr := Array{}
	for i := 0; dec.More(); i++ {
		val, err := decodeValue(dec, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil { // consume ']'
		return nil, &CanonError{Code: CodeMalformedJSON, Path: path, Message: err.Error()}
	}
	return arr, nil
}
