package receipt

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefold/chipline/internal/nrf"
	"github.com/tracefold/chipline/internal/secrets"
	"github.com/tracefold/chipline/internal/store"
)

func testSecret(t *testing.T, fill byte) *secrets.Secret {
	t.Helper()
	s, err := secrets.Derive(bytes.Repeat([]byte{fill}, secrets.RootSize))
	require.NoError(t, err)
	return s
}

func testReceipt() *Receipt {
	return &Receipt{
		ChipCID:  "b3:" + string(bytes.Repeat([]byte("a"), 64)),
		World:    "a/demo",
		Subject:  "did:key:zAlice",
		Decision: DecisionAllow,
		Nonce:    "r-nonce-1",
		IssuedAt: time.Unix(1700000000, 0).UTC(),
		Stages: []StageResult{
			{Stage: "knock", Status: StageOK, DurationMS: 1},
			{Stage: "wa", Status: StageOK, DurationMS: 2},
		},
		FuelUsed: 42,
	}
}

func TestReceiptCIDIsDeterministic(t *testing.T) {
	a, err := testReceipt().CID()
	require.NoError(t, err)
	b, err := testReceipt().CID()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, nrf.ValidCID(a))
}

func TestReceiptCIDVariesWithNonceAndTime(t *testing.T) {
	base, err := testReceipt().CID()
	require.NoError(t, err)

	r := testReceipt()
	r.Nonce = "r-nonce-2"
	withNonce, err := r.CID()
	require.NoError(t, err)
	assert.NotEqual(t, base, withNonce)

	r = testReceipt()
	r.IssuedAt = r.IssuedAt.Add(time.Second)
	withTime, err := r.CID()
	require.NoError(t, err)
	assert.NotEqual(t, base, withTime)
}

func TestReceiptRejectsMissingFields(t *testing.T) {
	r := testReceipt()
	r.Nonce = ""
	_, err := r.CID()
	require.Error(t, err)

	r = testReceipt()
	r.IssuedAt = time.Time{}
	_, err = r.CID()
	require.Error(t, err)
}

func TestReceiptBodyCarriesWorkNonceAndParents(t *testing.T) {
	r := testReceipt()
	r.WorkNonce = "wn-1"
	r.Parents = []string{
		"b3:" + string(bytes.Repeat([]byte("b"), 64)),
		"b3:" + string(bytes.Repeat([]byte("c"), 64)),
	}

	body, err := r.CanonicalBody()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"work_nonce":"wn-1"`)
	assert.Contains(t, string(body), `"parents":["`+r.Parents[0]+`","`+r.Parents[1]+`"]`)

	bare, err := testReceipt().CanonicalBody()
	require.NoError(t, err)
	assert.NotContains(t, string(bare), "work_nonce")
	assert.NotContains(t, string(bare), "parents")
}

type singleVerifier struct{ s *secrets.Secret }

func (v singleVerifier) VerifyAny(msg, sig []byte) bool { return v.s.Verify(msg, sig) }

func TestSealAndVerifyRoundTrip(t *testing.T) {
	secret := testSecret(t, 1)

	sealed, err := Seal(testReceipt(), secret)
	require.NoError(t, err)
	assert.True(t, nrf.ValidCID(sealed.CID))
	assert.Equal(t, secret.Fingerprint(), sealed.SignerFP)

	cid, err := Verify(sealed.Bytes(), singleVerifier{secret})
	require.NoError(t, err)
	assert.Equal(t, sealed.CID, cid)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	secret := testSecret(t, 1)
	sealed, err := Seal(testReceipt(), secret)
	require.NoError(t, err)

	tampered := bytes.Replace(sealed.Bytes(), []byte(`"allow"`), []byte(`"deny!"`), 1)
	require.NotEqual(t, sealed.Bytes(), tampered)

	_, err = Verify(tampered, singleVerifier{secret})
	require.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	sealed, err := Seal(testReceipt(), testSecret(t, 1))
	require.NoError(t, err)

	_, err = Verify(sealed.Bytes(), singleVerifier{testSecret(t, 2)})
	require.Error(t, err)
}

func TestSealDistinctExecutionsDistinctCIDs(t *testing.T) {
	secret := testSecret(t, 1)

	first, err := Seal(testReceipt(), secret)
	require.NoError(t, err)

	second := testReceipt()
	second.Nonce = "r-nonce-2"
	second.IssuedAt = second.IssuedAt.Add(time.Second)
	sealed2, err := Seal(second, secret)
	require.NoError(t, err)

	assert.NotEqual(t, first.CID, sealed2.CID)
}

func openTestChain(t *testing.T) *Chain {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewChain(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChainAppendAndLookup(t *testing.T) {
	chain := openTestChain(t)
	secret := testSecret(t, 1)
	ctx := context.Background()

	sealed, err := Seal(testReceipt(), secret)
	require.NoError(t, err)

	pos, err := chain.Append(ctx, sealed)
	require.NoError(t, err)

	row, err := chain.Get(ctx, sealed.CID)
	require.NoError(t, err)
	assert.Equal(t, pos, row.Position)
	assert.Equal(t, sealed.Bytes(), row.Body)

	byPos, err := chain.GetAt(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, sealed.CID, byPos.ReceiptCID)
}

func TestChainSupersession(t *testing.T) {
	chain := openTestChain(t)
	secret := testSecret(t, 1)
	ctx := context.Background()

	original, err := Seal(testReceipt(), secret)
	require.NoError(t, err)
	_, err = chain.Append(ctx, original)
	require.NoError(t, err)

	correction := testReceipt()
	correction.Nonce = "r-nonce-2"
	correction.Decision = DecisionDeny
	correction.Supersedes = original.CID
	sealed, err := Seal(correction, secret)
	require.NoError(t, err)
	_, err = chain.Append(ctx, sealed)
	require.NoError(t, err)

	got, err := chain.SupersededBy(ctx, original.CID)
	require.NoError(t, err)
	assert.Equal(t, sealed.CID, got.ReceiptCID)

	// The original row is untouched.
	row, err := chain.Get(ctx, original.CID)
	require.NoError(t, err)
	assert.Equal(t, original.Bytes(), row.Body)
}

func TestChainSupersedeValidatesPredecessor(t *testing.T) {
	chain := openTestChain(t)
	secret := testSecret(t, 1)
	ctx := context.Background()

	original, err := Seal(testReceipt(), secret)
	require.NoError(t, err)
	_, err = chain.Append(ctx, original)
	require.NoError(t, err)

	correction := testReceipt()
	correction.Nonce = "r-nonce-2"
	correction.Supersedes = original.CID
	sealed, err := Seal(correction, secret)
	require.NoError(t, err)

	// A correction must name the receipt it corrects.
	_, err = chain.Supersede(ctx, "b3:"+string(bytes.Repeat([]byte("f"), 64)), sealed)
	require.Error(t, err)

	// The predecessor must already be on the chain.
	orphan := testReceipt()
	orphan.Nonce = "r-nonce-3"
	orphan.Supersedes = "b3:" + string(bytes.Repeat([]byte("f"), 64))
	sealedOrphan, err := Seal(orphan, secret)
	require.NoError(t, err)
	_, err = chain.Supersede(ctx, orphan.Supersedes, sealedOrphan)
	require.Error(t, err)

	pos, err := chain.Supersede(ctx, original.CID, sealed)
	require.NoError(t, err)

	got, err := chain.SupersededBy(ctx, original.CID)
	require.NoError(t, err)
	assert.Equal(t, pos, got.Position)
}

func TestChainVerifyRange(t *testing.T) {
	chain := openTestChain(t)
	secret := testSecret(t, 1)
	ctx := context.Background()

	for i, nonce := range []string{"r-1", "r-2", "r-3"} {
		r := testReceipt()
		r.Nonce = nonce
		r.IssuedAt = r.IssuedAt.Add(time.Duration(i) * time.Second)
		sealed, err := Seal(r, secret)
		require.NoError(t, err)
		_, err = chain.Append(ctx, sealed)
		require.NoError(t, err)
	}

	n, err := chain.VerifyRange(ctx, singleVerifier{secret}, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// A foreign verifier fails the whole range at the first receipt.
	n, err = chain.VerifyRange(ctx, singleVerifier{testSecret(t, 2)}, 0, 100)
	require.Error(t, err)
	assert.Equal(t, 0, n)
}
