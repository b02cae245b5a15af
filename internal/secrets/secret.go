// Package secrets manages the stage signing secret: derivation of the
// receipt-signing key and the work-authorization MAC key from a single
// root secret, and atomic rotation with a one-deep previous slot so
// receipts sealed before a rotation stay verifiable.
package secrets

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tracefold/chipline/internal/nrf"
)

// RootSize is the required root secret length in bytes.
const RootSize = 32

// Domain-separation labels for HKDF expansion. Changing either label
// is a breaking change: every derived key changes with it.
const (
	infoSignSeed = "chipline/receipt-sign/v1"
	infoMACKey   = "chipline/wa-token/v1"
)

// Secret holds the keys derived from one root secret. Derivation is
// pure: the same root always yields the same keys. A Secret is
// immutable after Derive and safe to share across goroutines.
type Secret struct {
	root    []byte
	signKey ed25519.PrivateKey
	macKey  []byte
}

// Derive expands a root secret into the signing and MAC keys using
// HKDF-SHA256 with fixed domain-separation labels.
func Derive(root []byte) (*Secret, error) {
	if len(root) != RootSize {
		return nil, fmt.Errorf("root secret must be %d bytes, got %d", RootSize, len(root))
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(infoSignSeed)), seed); err != nil {
		return nil, fmt.Errorf("derive signing seed: %w", err)
	}
	macKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(infoMACKey)), macKey); err != nil {
		return nil, fmt.Errorf("derive mac key: %w", err)
	}

	rootCopy := make([]byte, RootSize)
	copy(rootCopy, root)
	return &Secret{
		root:    rootCopy,
		signKey: ed25519.NewKeyFromSeed(seed),
		macKey:  macKey,
	}, nil
}

// Root returns a copy of the root secret, for persistence.
func (s *Secret) Root() []byte {
	out := make([]byte, len(s.root))
	copy(out, s.root)
	return out
}

// Sign signs msg with the derived Ed25519 key.
func (s *Secret) Sign(msg []byte) []byte {
	return ed25519.Sign(s.signKey, msg)
}

// Verify checks an Ed25519 signature produced by this secret.
func (s *Secret) Verify(msg, sig []byte) bool {
	return ed25519.Verify(s.PublicKey(), msg, sig)
}

// PublicKey returns the derived Ed25519 public key.
func (s *Secret) PublicKey() ed25519.PublicKey {
	return s.signKey.Public().(ed25519.PublicKey)
}

// MAC computes an HMAC-SHA256 tag over msg with the derived MAC key.
func (s *Secret) MAC(msg []byte) []byte {
	h := hmac.New(sha256.New, s.macKey)
	h.Write(msg)
	return h.Sum(nil)
}

// VerifyMAC checks a tag in constant time.
func (s *Secret) VerifyMAC(msg, tag []byte) bool {
	return hmac.Equal(s.MAC(msg), tag)
}

// Fingerprint identifies the secret publicly: the CID of the raw
// derived public key bytes. Safe to log and embed in receipts.
func (s *Secret) Fingerprint() string {
	return nrf.KnockCID(s.PublicKey())
}
