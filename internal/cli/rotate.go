package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracefold/chipline/internal/secrets"
)

type rotateResult struct {
	Reference   string `json:"rotation_reference"`
	Fingerprint string `json:"fingerprint"`
}

func (r rotateResult) String() string {
	return fmt.Sprintf("rotated: reference %s, new fingerprint %s", r.Reference, r.Fingerprint)
}

// NewRotateCommand creates the rotate command: replace the stage
// signing secret.
func NewRotateCommand(opts *RootOptions) *cobra.Command {
	var (
		reason string
		newKey string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the stage signing secret",
		Long: "Generates a fresh signing secret, persists it, and demotes the current\n" +
			"one to the previous slot. Receipts sealed before the rotation keep\n" +
			"verifying until the next rotation retires their key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			var ref string
			if newKey != "" {
				root, err := hex.DecodeString(newKey)
				if err != nil {
					return NewExitError(ExitCommandError, "--new-key must be hex")
				}
				if len(root) != secrets.RootSize {
					return NewExitError(ExitCommandError,
						fmt.Sprintf("--new-key must be %d bytes, got %d", secrets.RootSize, len(root)))
				}
				ref, err = rt.Secrets.RotateTo(cmd.Context(), root, reason)
				if err != nil {
					return WrapExitError(ExitFailure, "rotation failed", err)
				}
			} else {
				ref, err = rt.Secrets.Rotate(cmd.Context(), reason)
				if err != nil {
					return WrapExitError(ExitFailure, "rotation failed", err)
				}
			}
			return formatter.Success(rotateResult{
				Reference:   ref,
				Fingerprint: rt.Secrets.Current().Fingerprint(),
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded in the rotation audit log")
	cmd.Flags().StringVar(&newKey, "new-key", "", "hex-encoded root secret to install instead of generating one")
	return cmd
}
