package policy

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefold/chipline/internal/chip"
	"github.com/tracefold/chipline/internal/nrf"
)

const testRuleset = `
ruleset: {
	version: "2024-01"
	default: "deny"
}
rule: {
	deny_evil: {
		priority: 1
		match: {type_prefix: "evil/"}
		decision: "deny"
		reason:   "forbidden namespace"
	}
	require_payment_review: {
		priority: 5
		match: {type: "payment"}
		decision:     "require"
		requirements: ["human_review"]
	}
	allow_docs: {
		priority: 10
		match: {type: "doc", world_prefix: "a/demo"}
		decision: "allow"
	}
}
`

func compileTestRuleset(t *testing.T, src string) *Ruleset {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	rs, err := Compile(v)
	require.NoError(t, err)
	return rs
}

func testEnvelope(t *testing.T, chipType, world string) *chip.Envelope {
	t.Helper()
	env, err := chip.Parse(nrf.Object{
		"@id":    nrf.String("x-1"),
		"@type":  nrf.String(chipType),
		"@ver":   nrf.String("1.0"),
		"@world": nrf.String(world),
	})
	require.NoError(t, err)
	return env
}

func testAuth(subject string) Authorization {
	return Authorization{Subject: subject, Scope: "a/demo|" + subject}
}

func TestDecideFirstMatchWins(t *testing.T) {
	rs := compileTestRuleset(t, testRuleset)

	d := rs.Decide(testEnvelope(t, "doc", "a/demo/t/main"), testAuth("did:key:zAlice"))
	assert.Equal(t, OutcomeAllow, d.Outcome)
	assert.Equal(t, "allow_docs", d.Rule)

	d = rs.Decide(testEnvelope(t, "evil/hack", "a/demo/t/main"), testAuth("did:key:zAlice"))
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "deny_evil", d.Rule)
	assert.Equal(t, "forbidden namespace", d.Reason)
}

func TestDecideRequireCarriesRequirements(t *testing.T) {
	rs := compileTestRuleset(t, testRuleset)

	d := rs.Decide(testEnvelope(t, "payment", "a/demo"), testAuth("did:key:zAlice"))
	assert.Equal(t, OutcomeRequire, d.Outcome)
	assert.Equal(t, []string{"human_review"}, d.Requirements)
}

func TestDecideDefaultWhenNothingMatches(t *testing.T) {
	rs := compileTestRuleset(t, testRuleset)

	d := rs.Decide(testEnvelope(t, "doc", "a/other"), testAuth("did:key:zAlice"))
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Empty(t, d.Rule)
	assert.Contains(t, d.Trace, "default=deny")
}

func TestDecideIsDeterministic(t *testing.T) {
	rs := compileTestRuleset(t, testRuleset)
	env := testEnvelope(t, "evil/hack", "a/demo")
	auth := testAuth("did:key:zAlice")

	first := rs.Decide(env, auth)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, rs.Decide(env, auth))
	}
}

func TestDecideTraceRecordsEvaluationOrder(t *testing.T) {
	rs := compileTestRuleset(t, testRuleset)

	d := rs.Decide(testEnvelope(t, "doc", "a/demo"), testAuth("did:key:zAlice"))
	assert.Equal(t, []string{
		"deny_evil=miss",
		"require_payment_review=miss",
		"allow_docs=match",
	}, d.Trace)
}

func TestEvaluationOrderIgnoresAuthoringOrder(t *testing.T) {
	// Same rules, reversed in the source text.
	reversed := compileTestRuleset(t, `
ruleset: {default: "deny"}
rule: {
	allow_docs: {
		priority: 10
		match: {type: "doc", world_prefix: "a/demo"}
		decision: "allow"
	}
	deny_evil: {
		priority: 1
		match: {type_prefix: "evil/"}
		decision: "deny"
	}
}
`)
	d := reversed.Decide(testEnvelope(t, "evil/hack", "a/demo"), testAuth("did:key:zAlice"))
	assert.Equal(t, "deny_evil", d.Rule)
}

func TestDecideMatchesOnSubject(t *testing.T) {
	rs := compileTestRuleset(t, `
ruleset: {default: "deny"}
rule: {
	deny_anonymous: {
		priority: 1
		match: {subject_prefix: "did:anon:"}
		decision: "deny"
		reason:   "named subjects only"
	}
	allow_alice: {
		priority: 5
		match: {subject: "did:key:zAlice"}
		decision: "allow"
	}
}
`)
	env := testEnvelope(t, "doc", "a/demo")

	d := rs.Decide(env, testAuth("did:anon:b3:abc"))
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Equal(t, "deny_anonymous", d.Rule)

	d = rs.Decide(env, testAuth("did:key:zAlice"))
	assert.Equal(t, OutcomeAllow, d.Outcome)
	assert.Equal(t, "allow_alice", d.Rule)

	d = rs.Decide(env, testAuth("did:key:zBob"))
	assert.Equal(t, OutcomeDeny, d.Outcome)
	assert.Empty(t, d.Rule)
}

func TestCompileRejectsInvalidDecision(t *testing.T) {
	v := cuecontext.New().CompileString(`
rule: {bad: {decision: "maybe"}}
`)
	require.NoError(t, v.Err())
	_, err := Compile(v)
	require.Error(t, err)
}

func TestCompileRejectsRequireWithoutRequirements(t *testing.T) {
	v := cuecontext.New().CompileString(`
rule: {needy: {decision: "require"}}
`)
	require.NoError(t, v.Err())
	_, err := Compile(v)
	require.Error(t, err)
}

func TestCompileRejectsEmptyRuleset(t *testing.T) {
	v := cuecontext.New().CompileString(`ruleset: {version: "1"}`)
	require.NoError(t, v.Err())
	_, err := Compile(v)
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.cue")
	require.NoError(t, os.WriteFile(path, []byte(testRuleset), 0o600))

	rs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-01", rs.Version)
	assert.Len(t, rs.Rules(), 3)
}

func TestLoadFileReportsSyntaxErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte(`rule: {`), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}
