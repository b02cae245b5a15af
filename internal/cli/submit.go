package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// submitResult is the JSON payload for a completed run.
type submitResult struct {
	ChipCID    string `json:"chip_cid"`
	ReceiptCID string `json:"receipt_cid"`
	Decision   string `json:"decision"`
	Position   int64  `json:"position"`
	OutputCID  string `json:"output_cid,omitempty"`
	FuelUsed   int64  `json:"fuel_used"`
	Subject    string `json:"subject,omitempty"`
}

func (r submitResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "decision:    %s\n", r.Decision)
	fmt.Fprintf(&b, "chip:        %s\n", r.ChipCID)
	fmt.Fprintf(&b, "receipt:     %s (position %d)", r.ReceiptCID, r.Position)
	if r.OutputCID != "" {
		fmt.Fprintf(&b, "\noutput:      %s", r.OutputCID)
	}
	if r.FuelUsed > 0 {
		fmt.Fprintf(&b, "\nfuel used:   %d", r.FuelUsed)
	}
	return b.String()
}

// NewSubmitCommand creates the submit command: run one chip document
// through the pipeline.
func NewSubmitCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Run a chip document through the pipeline",
		Long: "Reads a JSON chip document (or stdin when file is \"-\"), runs it through\n" +
			"all five stages, and prints the sealed receipt reference. The command\n" +
			"succeeds whenever a receipt was sealed; check the decision for the outcome.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			raw, err := readInput(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "reading submission", err)
			}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Engine.Process(cmd.Context(), raw, nil)
			if err != nil {
				return WrapExitError(ExitFailure, "pipeline run failed", err)
			}

			return formatter.Success(submitResult{
				ChipCID:    res.ChipCID,
				ReceiptCID: res.Sealed.CID,
				Decision:   res.Decision,
				Position:   res.Position,
				OutputCID:  res.OutputCID,
				FuelUsed:   res.FuelUsed,
				Subject:    res.Subject,
			})
		},
	}
	return cmd
}

// readInput reads the submission from a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
