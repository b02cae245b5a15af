package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrReceiptNotFound is returned by the receipt lookups when no row
// matches.
var ErrReceiptNotFound = errors.New("receipt not found")

// ReceiptRow is the stored form of a sealed receipt. Body holds the
// receipt's canonical bytes; the remaining columns are denormalized
// for lookup and never diverge from the body.
type ReceiptRow struct {
	Position   int64
	ReceiptCID string
	ChipCID    string
	World      string
	Decision   string
	Supersedes string // empty unless this receipt corrects an earlier one
	Body       []byte
	CreatedAt  time.Time
}

// AppendReceipt inserts a sealed receipt and returns its chain
// position. Positions are database-assigned, strictly increasing, and
// never reused. A duplicate receipt CID is an error: the chain never
// holds the same sealed receipt twice.
func (s *Store) AppendReceipt(ctx context.Context, row *ReceiptRow) (int64, error) {
	var supersedes any
	if row.Supersedes != "" {
		supersedes = row.Supersedes
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (receipt_cid, chip_cid, world, decision, supersedes, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ReceiptCID, row.ChipCID, row.World, row.Decision, supersedes, row.Body, row.CreatedAt.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("append receipt: %w", err)
	}
	pos, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append receipt: last insert id: %w", err)
	}
	return pos, nil
}

// GetReceipt looks a receipt up by its CID.
func (s *Store) GetReceipt(ctx context.Context, receiptCID string) (*ReceiptRow, error) {
	return s.scanReceipt(s.db.QueryRowContext(ctx,
		`SELECT position, receipt_cid, chip_cid, world, decision, supersedes, body, created_at
		 FROM receipts WHERE receipt_cid = ?`, receiptCID))
}

// GetReceiptAt looks a receipt up by chain position.
func (s *Store) GetReceiptAt(ctx context.Context, position int64) (*ReceiptRow, error) {
	return s.scanReceipt(s.db.QueryRowContext(ctx,
		`SELECT position, receipt_cid, chip_cid, world, decision, supersedes, body, created_at
		 FROM receipts WHERE position = ?`, position))
}

// ReceiptsForChip returns every receipt issued for a chip CID, oldest
// first. Multiple rows are normal: each execution of the same chip
// seals its own receipt.
func (s *Store) ReceiptsForChip(ctx context.Context, chipCID string) ([]*ReceiptRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, receipt_cid, chip_cid, world, decision, supersedes, body, created_at
		 FROM receipts WHERE chip_cid = ? ORDER BY position`, chipCID)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*ReceiptRow
	for rows.Next() {
		r, err := scanReceiptRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Head returns the newest receipt on the chain, or ErrReceiptNotFound
// when the chain is empty.
func (s *Store) Head(ctx context.Context) (*ReceiptRow, error) {
	return s.scanReceipt(s.db.QueryRowContext(ctx,
		`SELECT position, receipt_cid, chip_cid, world, decision, supersedes, body, created_at
		 FROM receipts ORDER BY position DESC LIMIT 1`))
}

// SupersededBy returns the receipt that supersedes the given one, or
// ErrReceiptNotFound when nothing has.
func (s *Store) SupersededBy(ctx context.Context, receiptCID string) (*ReceiptRow, error) {
	return s.scanReceipt(s.db.QueryRowContext(ctx,
		`SELECT position, receipt_cid, chip_cid, world, decision, supersedes, body, created_at
		 FROM receipts WHERE supersedes = ? ORDER BY position LIMIT 1`, receiptCID))
}

// WalkChain streams receipts in chain order starting at fromPosition,
// up to limit rows.
func (s *Store) WalkChain(ctx context.Context, fromPosition int64, limit int) ([]*ReceiptRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, receipt_cid, chip_cid, world, decision, supersedes, body, created_at
		 FROM receipts WHERE position >= ? ORDER BY position LIMIT ?`, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("walk chain: %w", err)
	}
	defer rows.Close()

	var out []*ReceiptRow
	for rows.Next() {
		r, err := scanReceiptRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) scanReceipt(row *sql.Row) (*ReceiptRow, error) {
	r, err := scanReceiptRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func scanReceiptRow(scan func(dest ...any) error) (*ReceiptRow, error) {
	var (
		r          ReceiptRow
		supersedes sql.NullString
		created    int64
	)
	if err := scan(&r.Position, &r.ReceiptCID, &r.ChipCID, &r.World, &r.Decision, &supersedes, &r.Body, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	r.Supersedes = supersedes.String
	r.CreatedAt = time.Unix(created, 0).UTC()
	return &r, nil
}
