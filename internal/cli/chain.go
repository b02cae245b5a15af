package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracefold/chipline/internal/store"
)

type chainEntry struct {
	Position   int64  `json:"position"`
	ReceiptCID string `json:"receipt_cid"`
	ChipCID    string `json:"chip_cid"`
	World      string `json:"world"`
	Decision   string `json:"decision"`
	Supersedes string `json:"supersedes,omitempty"`
}

func toChainEntry(row *store.ReceiptRow) chainEntry {
	return chainEntry{
		Position:   row.Position,
		ReceiptCID: row.ReceiptCID,
		ChipCID:    row.ChipCID,
		World:      row.World,
		Decision:   row.Decision,
		Supersedes: row.Supersedes,
	}
}

func (e chainEntry) String() string {
	s := fmt.Sprintf("%6d  %-8s %s  chip=%s world=%s", e.Position, e.Decision, e.ReceiptCID, e.ChipCID, e.World)
	if e.Supersedes != "" {
		s += " supersedes=" + e.Supersedes
	}
	return s
}

// NewChainCommand creates the chain command: inspect the receipt
// chain.
func NewChainCommand(opts *RootOptions) *cobra.Command {
	var (
		from  int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect the receipt chain",
		Long:  "Lists receipts in chain order. Without flags, shows the chain head.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if from == 0 {
				head, err := rt.Chain.Head(cmd.Context())
				if errors.Is(err, store.ErrReceiptNotFound) {
					return formatter.Success("chain is empty")
				}
				if err != nil {
					return WrapExitError(ExitCommandError, "reading chain head", err)
				}
				return formatter.Success(toChainEntry(head))
			}

			rows, err := rt.Chain.Walk(cmd.Context(), from, limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "walking chain", err)
			}
			if opts.Format == "json" {
				entries := make([]chainEntry, 0, len(rows))
				for _, row := range rows {
					entries = append(entries, toChainEntry(row))
				}
				return formatter.Success(entries)
			}
			for _, row := range rows {
				fmt.Fprintln(cmd.OutOrStdout(), toChainEntry(row))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "list from this position instead of showing the head")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum receipts to list")
	return cmd
}
