package receipt

import (
	"encoding/base64"
	"fmt"

	"github.com/tracefold/chipline/internal/nrf"
	"github.com/tracefold/chipline/internal/secrets"
)

// Sealed is a signed receipt. The CID is over the unsealed body; the
// signature covers those same bytes, so tampering with either the
// content or the identifier breaks verification.
type Sealed struct {
	Receipt    *Receipt
	CID        string
	Signature  []byte
	SignerFP   string // fingerprint of the signing secret
	sealedBody []byte // cached wire form
}

// Seal signs the receipt with the given secret and returns the sealed
// form. The signature is computed over the canonical unsealed body,
// then folded into the stored document alongside the CID and signer
// fingerprint.
func Seal(r *Receipt, secret *secrets.Secret) (*Sealed, error) {
	body, err := r.body()
	if err != nil {
		return nil, err
	}
	canonical, err := nrf.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("canonicalize receipt: %w", err)
	}

	cid := nrf.ComputeCID(canonical)
	sig := secret.Sign(canonical)

	body["receipt_cid"] = nrf.String(cid)
	body["sig"] = nrf.String(base64.StdEncoding.EncodeToString(sig))
	body["signer"] = nrf.String(secret.Fingerprint())
	sealedBody, err := nrf.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("canonicalize sealed receipt: %w", err)
	}

	return &Sealed{
		Receipt:    r,
		CID:        cid,
		Signature:  sig,
		SignerFP:   secret.Fingerprint(),
		sealedBody: sealedBody,
	}, nil
}

// Bytes returns the sealed wire form: the canonical receipt body with
// receipt_cid, sig and signer folded in. This is what the chain
// stores.
func (s *Sealed) Bytes() []byte {
	return s.sealedBody
}

// Verifier checks signatures against the live secret generations.
// *secrets.Manager satisfies it.
type Verifier interface {
	VerifyAny(msg, sig []byte) bool
}

// Verify re-derives a sealed receipt from its stored bytes and checks
// both commitments: the CID must match the unsealed body, and the
// signature must verify against a live secret generation.
//
// Returns the embedded CID on success so callers can cross-check it
// against the chain row.
func Verify(stored []byte, v Verifier) (string, error) {
	val, err := nrf.Decode(stored)
	if err != nil {
		return "", fmt.Errorf("decode sealed receipt: %w", err)
	}
	body, ok := val.(nrf.Object)
	if !ok {
		return "", fmt.Errorf("sealed receipt is not an object")
	}

	cidField, ok := body["receipt_cid"].(nrf.String)
	if !ok {
		return "", fmt.Errorf("sealed receipt missing receipt_cid")
	}
	sigField, ok := body["sig"].(nrf.String)
	if !ok {
		return "", fmt.Errorf("sealed receipt missing sig")
	}
	sig, err := base64.StdEncoding.DecodeString(string(sigField))
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}

	// The CID and signature commit to the body without the seal fields.
	delete(body, "receipt_cid")
	delete(body, "sig")
	delete(body, "signer")
	canonical, err := nrf.MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize receipt body: %w", err)
	}

	if got := nrf.ComputeCID(canonical); got != string(cidField) {
		return "", fmt.Errorf("receipt CID mismatch: body derives %s, seal claims %s", got, cidField)
	}
	if !v.VerifyAny(canonical, sig) {
		return "", fmt.Errorf("receipt signature does not verify against any live secret")
	}
	return string(cidField), nil
}
