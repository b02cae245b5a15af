package nrf

import (
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the constrained NRF value types.
// Only String, Int, Bool, Dec, Array, and Object implement it.
// There is deliberately no float type: floats have no unique byte
// representation and break content-addressed identity.
type Value interface {
	nrfValue() // sealed
}

// String is a text value. NFC normalization happens at marshal time.
type String string

func (String) nrfValue() {}

// Int is an integer value. Always int64, never float64.
type Int int64

func (Int) nrfValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) nrfValue() {}

// Dec is a non-integer number in canonical decimal form, carried as a
// JSON string on the wire. Canonical form: optional leading '-', an
// integer part with no leading zeros, a '.', and a fractional part
// with no trailing zeros. "1.25" is canonical; "1.250", "01.25", and
// "1." are not. Validity is enforced at marshal time.
type Dec string

func (Dec) nrfValue() {}

// Array is an ordered sequence of values. Order is semantically
// significant and is never re-sorted.
type Array []Value

func (Array) nrfValue() {}

// Object is a map of string keys to values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) nrfValue() {}

// CheckDec reports whether s is in canonical decimal form.
func CheckDec(s string) error {
	rest := s
	if len(rest) > 0 && rest[0] == '-' {
		rest = rest[1:]
	}
	intPart, fracPart, ok := cutDot(rest)
	if !ok {
		return fmt.Errorf("decimal %q: missing fractional part", s)
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return fmt.Errorf("decimal %q: non-digit characters", s)
	}
	if len(intPart) == 0 || len(fracPart) == 0 {
		return fmt.Errorf("decimal %q: empty integer or fractional part", s)
	}
	if len(intPart) > 1 && intPart[0] == '0' {
		return fmt.Errorf("decimal %q: leading zero", s)
	}
	if fracPart[len(fracPart)-1] == '0' {
		return fmt.Errorf("decimal %q: trailing zero in fractional part", s)
	}
	return nil
}

func cutDot(s string) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code
// units). Go's sort.Strings compares UTF-8 bytes, which produces a
// DIFFERENT order for strings containing supplementary-plane runes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 compares two strings by UTF-16 code units, including
// surrogate pairs, as RFC 8785 requires for key ordering.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	n := len(ua)
	if len(ub) < n {
		n = len(ub)
	}
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}

// FromAny converts plain Go values (as produced by hand-built
// structures in tests and internal callers) into NRF values. Floats
// and nil are rejected; external input goes through Decode instead.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case nil:
		return nil, &CanonError{Code: CodeNullForbidden, Message: "null is forbidden"}
	case float32, float64:
		return nil, &CanonError{Code: CodeFloatForbidden, Message: fmt.Sprintf("floats are forbidden: %v", val)}
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			nv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = nv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			nv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = nv
		}
		return obj, nil
	default:
		return nil, &CanonError{Code: CodeUnsupportedType, Message: fmt.Sprintf("unsupported type %T", v)}
	}
}
