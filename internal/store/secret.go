package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SecretRecord is the persisted form of the stage secret. Current is
// always set; Previous is nil until the first rotation.
type SecretRecord struct {
	Current           []byte
	Previous          []byte
	RotatedAt         time.Time
	RotationReference string
}

// LoadSecret reads the stage-secret row. Returns (nil, nil) when no
// secret has ever been persisted.
func (s *Store) LoadSecret(ctx context.Context) (*SecretRecord, error) {
	var (
		current  []byte
		previous []byte
		rotated  int64
		ref      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT current_secret, previous_secret, rotated_at, rotation_reference
		FROM stage_secret WHERE id = 1`).
		Scan(&current, &previous, &rotated, &ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load secret: %w", err)
	}
	return &SecretRecord{
		Current:           current,
		Previous:          previous,
		RotatedAt:         time.Unix(rotated, 0).UTC(),
		RotationReference: ref,
	}, nil
}

// PersistSecret writes the stage-secret row, replacing any existing
// one. The single UPSERT keeps persist atomic: either the whole record
// lands or none of it does, which is what lets rotation promise
// "persist then apply".
func (s *Store) PersistSecret(ctx context.Context, rec *SecretRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_secret (id, current_secret, previous_secret, rotated_at, rotation_reference)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_secret = excluded.current_secret,
			previous_secret = excluded.previous_secret,
			rotated_at = excluded.rotated_at,
			rotation_reference = excluded.rotation_reference`,
		rec.Current, rec.Previous, rec.RotatedAt.UTC().Unix(), rec.RotationReference)
	if err != nil {
		return fmt.Errorf("persist secret: %w", err)
	}
	return nil
}
