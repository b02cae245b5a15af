package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tracefold/chipline/internal/nrf"
	"github.com/tracefold/chipline/internal/store"
)

// NewReceiptCommand creates the receipt command: fetch stored
// receipts by CID, chain position, or chip CID.
func NewReceiptCommand(opts *RootOptions) *cobra.Command {
	var (
		byPosition int64
		byChip     string
	)

	cmd := &cobra.Command{
		Use:   "receipt [receipt-cid]",
		Short: "Fetch stored receipts",
		Long: "Prints the sealed receipt body for a receipt CID, a chain position\n" +
			"(--position), or every receipt sealed for a chip (--chip).",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()

			switch {
			case byChip != "":
				rows, err := rt.Chain.ForChip(cmd.Context(), byChip)
				if err != nil {
					return WrapExitError(ExitCommandError, "loading receipts", err)
				}
				if len(rows) == 0 {
					return NewExitError(ExitFailure, "no receipts for chip "+byChip)
				}
				for _, row := range rows {
					printRow(out, row)
				}
				return nil

			case byPosition > 0:
				row, err := rt.Chain.GetAt(cmd.Context(), byPosition)
				if err != nil {
					return WrapExitError(ExitCommandError, "loading receipt", err)
				}
				printRow(out, row)
				return nil

			case len(args) == 1:
				if !nrf.ValidCID(args[0]) {
					return NewExitError(ExitCommandError, "not a well-formed receipt CID: "+args[0])
				}
				row, err := rt.Chain.Get(cmd.Context(), args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "loading receipt", err)
				}
				printRow(out, row)
				return nil

			default:
				return NewExitError(ExitCommandError, "a receipt CID, --position, or --chip is required")
			}
		},
	}

	cmd.Flags().Int64Var(&byPosition, "position", 0, "fetch by chain position")
	cmd.Flags().StringVar(&byChip, "chip", "", "fetch every receipt for a chip CID")
	return cmd
}

// printRow writes one stored receipt: a reference line, then the
// sealed body exactly as the chain holds it.
func printRow(out io.Writer, row *store.ReceiptRow) {
	fmt.Fprintf(out, "# position %s decision %s chip %s\n",
		strconv.FormatInt(row.Position, 10), row.Decision, row.ChipCID)
	out.Write(row.Body)
	fmt.Fprintln(out)
}
