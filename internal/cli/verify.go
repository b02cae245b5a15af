package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracefold/chipline/internal/receipt"
)

type verifyResult struct {
	ReceiptCID string `json:"receipt_cid"`
	Position   int64  `json:"position"`
	Decision   string `json:"decision"`
	Valid      bool   `json:"valid"`
}

func (r verifyResult) String() string {
	return fmt.Sprintf("receipt %s at position %d: signature valid, decision %s",
		r.ReceiptCID, r.Position, r.Decision)
}

// NewVerifyCommand creates the verify command: re-check a stored
// receipt's CID and signature.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [receipt-cid]",
		Short: "Verify a stored receipt against the live secrets",
		Long: "Recomputes the receipt's CID from its stored body and checks its signature\n" +
			"against the current and previous stage secrets. With --all, verifies the\n" +
			"entire chain instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if all {
				n, err := rt.Chain.VerifyRange(cmd.Context(), rt.Secrets, 0, int(^uint(0)>>1))
				if err != nil {
					formatter.Error("VERIFY_FAILED", err.Error())
					return NewExitError(ExitFailure, fmt.Sprintf("chain verification failed after %d receipts", n))
				}
				return formatter.Success(fmt.Sprintf("verified %d receipts", n))
			}

			if len(args) != 1 {
				return NewExitError(ExitCommandError, "a receipt CID is required unless --all is set")
			}

			row, err := rt.Chain.Get(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "loading receipt", err)
			}
			cid, err := receipt.Verify(row.Body, rt.Secrets)
			if err != nil {
				formatter.Error("VERIFY_FAILED", err.Error())
				return NewExitError(ExitFailure, "receipt verification failed")
			}
			return formatter.Success(verifyResult{
				ReceiptCID: cid,
				Position:   row.Position,
				Decision:   row.Decision,
				Valid:      true,
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "verify every receipt on the chain")
	return cmd
}
