package pipeline

import (
	"github.com/tracefold/chipline/internal/secrets"
)

// WAToken is the work authorization minted after the replay check
// passes. It binds the admitted (scope, chip, nonce) triple with a
// MAC under the stage secret; the sealing stage refuses to sign a run
// the authorization stage did not admit.
type WAToken struct {
	Scope   string
	ChipCID string
	Nonce   string
	Tag     []byte
}

// tokenMessage is the MAC input. NUL-joined so no field can smuggle a
// boundary: scopes, CIDs and nonces never contain NUL.
func tokenMessage(scope, chipCID, nonce string) []byte {
	msg := make([]byte, 0, len(scope)+len(chipCID)+len(nonce)+2)
	msg = append(msg, scope...)
	msg = append(msg, 0)
	msg = append(msg, chipCID...)
	msg = append(msg, 0)
	msg = append(msg, nonce...)
	return msg
}

// MintToken authorizes the triple under the given secret.
func MintToken(secret *secrets.Secret, scope, chipCID, nonce string) *WAToken {
	return &WAToken{
		Scope:   scope,
		ChipCID: chipCID,
		Nonce:   nonce,
		Tag:     secret.MAC(tokenMessage(scope, chipCID, nonce)),
	}
}

// macVerifier checks a MAC against the live secret generations.
// *secrets.Manager satisfies it.
type macVerifier interface {
	VerifyAnyMAC(msg, tag []byte) bool
}

// Valid reports whether the token's tag verifies against a live
// secret generation. A rotation between minting and sealing keeps the
// token valid through the previous slot.
func (t *WAToken) Valid(v macVerifier) bool {
	return v.VerifyAnyMAC(tokenMessage(t.Scope, t.ChipCID, t.Nonce), t.Tag)
}
