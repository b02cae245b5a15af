package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chipline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chipline.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestInsertNonceFirstSightingWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := s.InsertNonce(ctx, "a/demo|alice", "n-1", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	replay, err := s.InsertNonce(ctx, "a/demo|alice", "n-1", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestInsertNonceScopesAreIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := s.InsertNonce(ctx, "a/demo|alice", "n-1", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	// Same nonce, different subject: not a replay.
	fresh, err = s.InsertNonce(ctx, "a/demo|bob", "n-1", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	// Same nonce, different world: not a replay.
	fresh, err = s.InsertNonce(ctx, "a/other|alice", "n-1", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestInsertNonceExpiredRowIsReadmitted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := s.InsertNonce(ctx, "a/demo|alice", "n-1", now, time.Second)
	require.NoError(t, err)
	require.True(t, fresh)

	// Within the TTL: replay.
	fresh, err = s.InsertNonce(ctx, "a/demo|alice", "n-1", now, time.Second)
	require.NoError(t, err)
	assert.False(t, fresh)

	// After the TTL the row refreshes in place.
	fresh, err = s.InsertNonce(ctx, "a/demo|alice", "n-1", now.Add(2*time.Second), time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestNonceSeen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seen, err := s.NonceSeen(ctx, "a/demo|alice", "n-1", now)
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = s.InsertNonce(ctx, "a/demo|alice", "n-1", now, time.Hour)
	require.NoError(t, err)

	seen, err = s.NonceSeen(ctx, "a/demo|alice", "n-1", now)
	require.NoError(t, err)
	assert.True(t, seen)

	// Expired rows read as unseen.
	seen, err = s.NonceSeen(ctx, "a/demo|alice", "n-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestPruneNoncesIsBounded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, n := range []string{"n-1", "n-2", "n-3"} {
		_, err := s.InsertNonce(ctx, "a/demo|alice", n, now, time.Second)
		require.NoError(t, err)
	}
	_, err := s.InsertNonce(ctx, "a/demo|alice", "n-live", now, time.Hour)
	require.NoError(t, err)

	later := now.Add(time.Minute)

	removed, err := s.PruneNonces(ctx, later, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = s.PruneNonces(ctx, later, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := s.CountNonces(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSecretPersistAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.LoadSecret(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	first := &SecretRecord{
		Current:           []byte("secret-one"),
		RotatedAt:         time.Unix(1700000000, 0).UTC(),
		RotationReference: "boot",
	}
	require.NoError(t, s.PersistSecret(ctx, first))

	rec, err = s.LoadSecret(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []byte("secret-one"), rec.Current)
	assert.Nil(t, rec.Previous)
	assert.Equal(t, first.RotatedAt, rec.RotatedAt)
	assert.Equal(t, "boot", rec.RotationReference)

	// Rotation replaces the single row.
	second := &SecretRecord{
		Current:           []byte("secret-two"),
		Previous:          []byte("secret-one"),
		RotatedAt:         time.Unix(1700003600, 0).UTC(),
		RotationReference: "rot-1",
	}
	require.NoError(t, s.PersistSecret(ctx, second))

	rec, err = s.LoadSecret(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []byte("secret-two"), rec.Current)
	assert.Equal(t, []byte("secret-one"), rec.Previous)
	assert.Equal(t, "rot-1", rec.RotationReference)
}

func testReceipt(cid, chipCID, decision string) *ReceiptRow {
	return &ReceiptRow{
		ReceiptCID: cid,
		ChipCID:    chipCID,
		World:      "a/demo",
		Decision:   decision,
		Body:       []byte(`{"decision":"` + decision + `"}`),
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestAppendReceiptAssignsIncreasingPositions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p1, err := s.AppendReceipt(ctx, testReceipt("b3:r1", "b3:c1", "allow"))
	require.NoError(t, err)
	p2, err := s.AppendReceipt(ctx, testReceipt("b3:r2", "b3:c1", "allow"))
	require.NoError(t, err)
	assert.Greater(t, p2, p1)
}

func TestAppendReceiptRejectsDuplicateCID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendReceipt(ctx, testReceipt("b3:r1", "b3:c1", "allow"))
	require.NoError(t, err)

	_, err = s.AppendReceipt(ctx, testReceipt("b3:r1", "b3:c1", "allow"))
	require.Error(t, err)
}

func TestGetReceiptByCIDAndPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pos, err := s.AppendReceipt(ctx, testReceipt("b3:r1", "b3:c1", "deny"))
	require.NoError(t, err)

	byCID, err := s.GetReceipt(ctx, "b3:r1")
	require.NoError(t, err)
	assert.Equal(t, pos, byCID.Position)
	assert.Equal(t, "deny", byCID.Decision)
	assert.Equal(t, "a/demo", byCID.World)

	byPos, err := s.GetReceiptAt(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, "b3:r1", byPos.ReceiptCID)

	_, err = s.GetReceipt(ctx, "b3:missing")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestReceiptsForChipOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendReceipt(ctx, testReceipt("b3:r1", "b3:c1", "allow"))
	require.NoError(t, err)
	_, err = s.AppendReceipt(ctx, testReceipt("b3:r2", "b3:other", "allow"))
	require.NoError(t, err)
	_, err = s.AppendReceipt(ctx, testReceipt("b3:r3", "b3:c1", "allow"))
	require.NoError(t, err)

	rows, err := s.ReceiptsForChip(ctx, "b3:c1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b3:r1", rows[0].ReceiptCID)
	assert.Equal(t, "b3:r3", rows[1].ReceiptCID)
}

func TestHeadAndWalkChain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Head(ctx)
	assert.ErrorIs(t, err, ErrReceiptNotFound)

	for _, cid := range []string{"b3:r1", "b3:r2", "b3:r3"} {
		_, err := s.AppendReceipt(ctx, testReceipt(cid, "b3:c1", "allow"))
		require.NoError(t, err)
	}

	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b3:r3", head.ReceiptCID)

	rows, err := s.WalkChain(ctx, head.Position-1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b3:r2", rows[0].ReceiptCID)
}

func TestSupersededBy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendReceipt(ctx, testReceipt("b3:r1", "b3:c1", "allow"))
	require.NoError(t, err)

	_, err = s.SupersededBy(ctx, "b3:r1")
	assert.ErrorIs(t, err, ErrReceiptNotFound)

	correction := testReceipt("b3:r2", "b3:c1", "deny")
	correction.Supersedes = "b3:r1"
	_, err = s.AppendReceipt(ctx, correction)
	require.NoError(t, err)

	got, err := s.SupersededBy(ctx, "b3:r1")
	require.NoError(t, err)
	assert.Equal(t, "b3:r2", got.ReceiptCID)
	assert.Equal(t, "b3:r1", got.Supersedes)
}
