package chip

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefold/chipline/internal/nrf"
)

func validBody() nrf.Object {
	return nrf.Object{
		"@id":    nrf.String("doc-1"),
		"@type":  nrf.String("doc"),
		"@ver":   nrf.String("1.0"),
		"@world": nrf.String("a/demo/t/main"),
		"title":  nrf.String("hello"),
	}
}

func TestParseValidEnvelope(t *testing.T) {
	env, err := Parse(validBody())
	require.NoError(t, err)

	assert.Equal(t, "doc", env.Type)
	assert.Equal(t, "doc-1", env.ID)
	assert.Equal(t, "1.0", env.Ver)
	assert.Equal(t, "a/demo/t/main", env.World)
	assert.Empty(t, env.Nonce)
	assert.Empty(t, env.Parents)
}

func TestParseMissingAnchors(t *testing.T) {
	for _, field := range []string{"@id", "@type", "@ver", "@world"} {
		t.Run(field, func(t *testing.T) {
			body := validBody()
			delete(body, field)

			_, err := Parse(body)
			require.Error(t, err)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, CodeMissingAnchor, ve.Code)
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestParseNonObjectBody(t *testing.T) {
	_, err := Parse(nrf.Array{nrf.Int(1)})
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, CodeInvalidField, ve.Code)
}

func TestParseNonceAndParents(t *testing.T) {
	parent := nrf.ComputeCID([]byte("parent"))
	body := validBody()
	body["@nonce"] = nrf.String("n-42")
	body["@parents"] = nrf.Array{nrf.String(parent)}

	env, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "n-42", env.Nonce)
	assert.Equal(t, []string{parent}, env.Parents)
}

func TestParseRejectsMalformedParents(t *testing.T) {
	body := validBody()
	body["@parents"] = nrf.Array{nrf.String("not-a-cid")}

	_, err := Parse(body)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, CodeInvalidField, ve.Code)
}

func TestValidateWorld(t *testing.T) {
	valid := []string{"a/demo", "a/demo/t/main", "a/chip-registry/t/public", "a/x_1"}
	for _, w := range valid {
		assert.NoError(t, ValidateWorld(w), "world %q", w)
	}

	invalid := []string{"", "demo", "b/demo", "a", "a//demo", "a/Demo", "a/demo/", "a/de mo", "a/" + strings.Repeat("x", 300)}
	for _, w := range invalid {
		assert.Error(t, ValidateWorld(w), "world %q", w)
	}
}

func TestEnvelopeCIDIsStable(t *testing.T) {
	env1, err := Parse(validBody())
	require.NoError(t, err)
	env2, err := Parse(validBody())
	require.NoError(t, err)

	cid1, err := env1.CID()
	require.NoError(t, err)
	cid2, err := env2.CID()
	require.NoError(t, err)
	assert.Equal(t, cid1, cid2)
	assert.True(t, nrf.ValidCID(cid1))
}

func TestResolveSubjectExplicitDIDWins(t *testing.T) {
	body := validBody()
	body["actor"] = nrf.Object{"did": nrf.String("did:key:zActor")}

	assert.Equal(t, "did:key:zActor", ResolveSubject(body, nil))
}

func TestResolveSubjectRootAndOwnerDID(t *testing.T) {
	body := validBody()
	body["did"] = nrf.String("did:key:zRoot")
	assert.Equal(t, "did:key:zRoot", ResolveSubject(body, nil))

	body2 := validBody()
	body2["owner_did"] = nrf.String("did:key:zOwner")
	assert.Equal(t, "did:key:zOwner", ResolveSubject(body2, nil))
}

func TestResolveSubjectAnonymousIsDeterministic(t *testing.T) {
	body := validBody()
	body["actor"] = nrf.Object{
		"installation_key": nrf.String("inst-123"),
		"device_id":        nrf.String("dev-1"),
	}

	a := ResolveSubject(body, nil)
	b := ResolveSubject(body, nil)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, AnonPrefix+"b3:"))
}

func TestResolveSubjectDistinctClaimsDistinctIdentity(t *testing.T) {
	a := validBody()
	a["actor"] = nrf.Object{"device_id": nrf.String("dev-1")}
	b := validBody()
	b["actor"] = nrf.Object{"device_id": nrf.String("dev-2")}

	assert.NotEqual(t, ResolveSubject(a, nil), ResolveSubject(b, nil))
}

func TestResolveSubjectNoClaimsStillResolves(t *testing.T) {
	got := ResolveSubject(validBody(), nil)
	assert.True(t, strings.HasPrefix(got, AnonPrefix))

	// Transport hints refine the anonymous identity.
	hinted := ResolveSubject(validBody(), &ActorHint{IPPrefix: "10.1"})
	assert.NotEqual(t, got, hinted)
}

func TestScope(t *testing.T) {
	assert.Equal(t, "a/demo|did:key:zA", Scope("a/demo", "did:key:zA"))
	assert.NotEqual(t, Scope("a/w1", "alice"), Scope("a/w2", "alice"))
}
