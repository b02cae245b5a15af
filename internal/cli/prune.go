package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPruneCommand creates the prune command: reclaim expired nonce
// rows from the replay ledger.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired nonces from the replay ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			removed, err := rt.Ledger.PruneExpired(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "prune failed", err)
			}
			return formatter.Success(fmt.Sprintf("pruned %d expired nonces", removed))
		},
	}
	return cmd
}
