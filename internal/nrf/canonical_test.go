package nrf

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"zero", Int(0), "0"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"decimal", Dec("1.25"), `"1.25"`},
		{"negative decimal", Dec("-0.5"), `"-0.5"`},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 sorts after a surrogate pair in UTF-16 but before it in
	// UTF-8 byte order. This is THE test for RFC 8785 key ordering.
	obj := Object{
		"":     Int(1),
		"\U00010000": Int(2), // UTF-16: 0xD800 0xDC00
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	expected := `{"` + "\U00010000" + `":2,"` + "" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a> & </a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a> & </a>"`, string(result))
	assert.NotContains(t, string(result), `<`)
	assert.NotContains(t, string(result), `&`)
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// Composed U+00E9 and decomposed "e"+U+0301 must produce identical
	// canonical bytes.
	composed, err := MarshalCanonical(String("café"))
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(String("café"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalLineSeparatorsLiteral(t *testing.T) {
	result, err := MarshalCanonical(String("a b c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(result))

	// A literal backslash followed by the text "u2028" must stay
	// escaped; only the real separator characters unescape.
	mixed, err := MarshalCanonical(String(`\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(mixed))
}

func TestMarshalCanonicalRejectsInvalidDec(t *testing.T) {
	for _, bad := range []string{"1.250", "01.25", "1.", ".5", "1", "--1.5", "1.2.3", "1e5"} {
		_, err := MarshalCanonical(Dec(bad))
		assert.Error(t, err, "Dec(%q) should not marshal", bad)
	}
}

func TestMarshalCanonicalControlCharacterEscapes(t *testing.T) {
	result, err := MarshalCanonical(String("line1\nline2\ttab"))
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\ttab"`, string(result))
}

func TestCanonicalBytesGolden(t *testing.T) {
	// The wire-level fixture for canonical encoding. If this changes,
	// every previously derived CID changes with it.
	chip := Object{
		"@id":    String("x1"),
		"@type":  String("doc"),
		"@ver":   String("1.0"),
		"@world": String("a/demo"),
		"title":  String("t"),
	}

	result, err := MarshalCanonical(chip)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "chip_canonical", result)
}

func TestFromAnyRejectsFloatsAndNil(t *testing.T) {
	_, err := FromAny(map[string]any{"x": 1.5})
	assert.Error(t, err)

	_, err = FromAny(map[string]any{"x": nil})
	assert.Error(t, err)
}
