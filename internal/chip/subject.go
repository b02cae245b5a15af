package chip

import (
	"github.com/tracefold/chipline/internal/nrf"
)

// AnonPrefix tags subjects resolved without an explicit DID claim.
const AnonPrefix = "did:anon:"

// ActorHint carries optional transport-level identity hints. The
// upstream gate fills these from connection metadata; they only feed
// the anonymous fingerprint and never override an explicit DID.
type ActorHint struct {
	IPPrefix      string
	UserAgentHash string
}

// actorClaimFields are the stable actor claims folded into the
// anonymous fingerprint, in no particular order (the fingerprint is an
// NRF CID, so ordering is canonical regardless).
var actorClaimFields = []string{
	"installation_key",
	"client_pubkey",
	"device_id",
	"session_id",
	"kid",
}

// ResolveSubject derives the stable subject identity for a submission.
//
// Priority: an explicit DID claim (actor.did, did, owner_did) wins;
// otherwise the subject is a deterministic anonymous DID derived from
// whatever stable claims are present. A submission with no claims at
// all still resolves — to the fingerprint of the empty claim set —
// which is the defined anonymous scope.
func ResolveSubject(body nrf.Object, hint *ActorHint) string {
	if did := explicitDID(body); did != "" {
		return did
	}

	claims := nrf.Object{}
	if actor, ok := body["actor"].(nrf.Object); ok {
		for _, field := range actorClaimFields {
			if s, ok := actor[field].(nrf.String); ok {
				claims[field] = s
			}
		}
	}
	if hint != nil {
		if hint.IPPrefix != "" {
			claims["ip_prefix"] = nrf.String(hint.IPPrefix)
		}
		if hint.UserAgentHash != "" {
			claims["user_agent_hash"] = nrf.String(hint.UserAgentHash)
		}
	}

	// claims is float-free by construction, so marshaling cannot fail.
	b, err := nrf.MarshalCanonical(claims)
	if err != nil {
		b = []byte("{}")
	}
	return AnonPrefix + nrf.ComputeCID(b)
}

func explicitDID(body nrf.Object) string {
	if actor, ok := body["actor"].(nrf.Object); ok {
		if did, ok := actor["did"].(nrf.String); ok && isDID(string(did)) {
			return string(did)
		}
	}
	if did, ok := body["did"].(nrf.String); ok && isDID(string(did)) {
		return string(did)
	}
	if did, ok := body["owner_did"].(nrf.String); ok && isDID(string(did)) {
		return string(did)
	}
	return ""
}

func isDID(s string) bool {
	return len(s) > 4 && s[:4] == "did:"
}

// Scope joins world and subject into the replay-protection scope key.
// Scoping nonces by (world, subject) keeps one caller's nonce reuse
// from blocking anyone else's.
func Scope(world, subject string) string {
	return world + "|" + subject
}
