package receipt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracefold/chipline/internal/store"
)

// Chain is the append-only receipt log. Receipts enter in seal order
// and are never modified; corrections append a superseding receipt
// that names its predecessor.
type Chain struct {
	store  *store.Store
	logger *slog.Logger
}

// NewChain creates a chain over the given store.
func NewChain(st *store.Store, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{store: st, logger: logger}
}

// Append adds a sealed receipt to the chain and returns its position.
func (c *Chain) Append(ctx context.Context, sealed *Sealed) (int64, error) {
	pos, err := c.store.AppendReceipt(ctx, &store.ReceiptRow{
		ReceiptCID: sealed.CID,
		ChipCID:    sealed.Receipt.ChipCID,
		World:      sealed.Receipt.World,
		Decision:   sealed.Receipt.Decision,
		Supersedes: sealed.Receipt.Supersedes,
		Body:       sealed.Bytes(),
		CreatedAt:  sealed.Receipt.IssuedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("chain append: %w", err)
	}
	c.logger.Debug("receipt appended",
		"position", pos,
		"receipt_cid", sealed.CID,
		"chip_cid", sealed.Receipt.ChipCID,
		"decision", sealed.Receipt.Decision)
	return pos, nil
}

// Get returns the stored receipt row for a receipt CID.
func (c *Chain) Get(ctx context.Context, receiptCID string) (*store.ReceiptRow, error) {
	return c.store.GetReceipt(ctx, receiptCID)
}

// GetAt returns the receipt at a chain position.
func (c *Chain) GetAt(ctx context.Context, position int64) (*store.ReceiptRow, error) {
	return c.store.GetReceiptAt(ctx, position)
}

// ForChip returns every receipt sealed for a chip, oldest first.
func (c *Chain) ForChip(ctx context.Context, chipCID string) ([]*store.ReceiptRow, error) {
	return c.store.ReceiptsForChip(ctx, chipCID)
}

// Head returns the newest receipt on the chain.
func (c *Chain) Head(ctx context.Context) (*store.ReceiptRow, error) {
	return c.store.Head(ctx)
}

// Supersede appends a correcting receipt for oldCID. The correction
// must name its predecessor, which must exist; the superseded row is
// never touched.
func (c *Chain) Supersede(ctx context.Context, oldCID string, sealed *Sealed) (int64, error) {
	if sealed.Receipt.Supersedes != oldCID {
		return 0, fmt.Errorf("supersede: correction names %q, not %q", sealed.Receipt.Supersedes, oldCID)
	}
	if _, err := c.store.GetReceipt(ctx, oldCID); err != nil {
		return 0, fmt.Errorf("supersede: predecessor %s: %w", oldCID, err)
	}
	return c.Append(ctx, sealed)
}

// Walk returns receipts in chain order starting at fromPosition, up
// to limit rows.
func (c *Chain) Walk(ctx context.Context, fromPosition int64, limit int) ([]*store.ReceiptRow, error) {
	return c.store.WalkChain(ctx, fromPosition, limit)
}

// SupersededBy returns the receipt that corrects receiptCID, or
// store.ErrReceiptNotFound when it stands uncorrected.
func (c *Chain) SupersededBy(ctx context.Context, receiptCID string) (*store.ReceiptRow, error) {
	return c.store.SupersededBy(ctx, receiptCID)
}

// VerifyRange re-verifies stored receipts from fromPosition onward,
// up to limit rows, against the live secret generations. Returns the
// number verified. Stops at the first bad receipt: a chain with one
// unverifiable entry is a chain with a problem, not a chain with a
// hole.
func (c *Chain) VerifyRange(ctx context.Context, v Verifier, fromPosition int64, limit int) (int, error) {
	rows, err := c.store.WalkChain(ctx, fromPosition, limit)
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		cid, err := Verify(row.Body, v)
		if err != nil {
			return i, fmt.Errorf("receipt at position %d: %w", row.Position, err)
		}
		if cid != row.ReceiptCID {
			return i, fmt.Errorf("receipt at position %d: row CID %s does not match sealed CID %s",
				row.Position, row.ReceiptCID, cid)
		}
	}
	return len(rows), nil
}
