package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertNonce atomically records (scope, nonce) if it is not already
// live. Returns true when this call is the first sighting (the caller
// won admission), false when the pair is already present and unexpired
// (a replay).
//
// An expired row does not block re-admission: the conflict clause
// refreshes it in place, and the refresh counts as a first sighting.
func (s *Store) InsertNonce(ctx context.Context, scope, nonce string, now time.Time, ttl time.Duration) (bool, error) {
	seen := now.UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (scope, nonce, first_seen_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, nonce) DO UPDATE SET
			first_seen_at = excluded.first_seen_at,
			expires_at = excluded.expires_at
		WHERE nonces.expires_at <= excluded.first_seen_at`,
		scope, nonce, seen, now.UTC().Add(ttl).Unix())
	if err != nil {
		return false, fmt.Errorf("insert nonce: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert nonce: rows affected: %w", err)
	}
	return n == 1, nil
}

// NonceSeen reports whether (scope, nonce) is currently live, without
// admitting it.
func (s *Store) NonceSeen(ctx context.Context, scope, nonce string, now time.Time) (bool, error) {
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM nonces WHERE scope = ? AND nonce = ?`,
		scope, nonce).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query nonce: %w", err)
	}
	return expires > now.UTC().Unix(), nil
}

// PruneNonces deletes up to limit expired nonce rows and returns the
// number removed. Bounded so a large backlog never stalls the write
// path; callers loop until it returns 0.
func (s *Store) PruneNonces(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM nonces WHERE rowid IN (
			SELECT rowid FROM nonces WHERE expires_at <= ? LIMIT ?
		)`, now.UTC().Unix(), limit)
	if err != nil {
		return 0, fmt.Errorf("prune nonces: %w", err)
	}
	return res.RowsAffected()
}

// CountNonces returns the number of ledger rows, live and expired.
func (s *Store) CountNonces(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nonces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nonces: %w", err)
	}
	return n, nil
}
