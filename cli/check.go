package cli

import (
	"github.com/spf13/cobra"

	"driftwatch/divergence"
	"driftwatch/output"
)

// NewCheckCmd prints the divergence report on stdout. Drift is reported in the
// output only; the command fails just when no comparison was possible.
func NewCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the targets against the baseline and print a JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open()
			if err != nil {
				return err
			}
			defer s.Close()

			report := s.engine.Check(cmd.Context())
			if err := output.WriteReport(app.Stdout, report); err != nil {
				return err
			}
			if report.State == divergence.StateError {
				return ErrCheckFailed
			}
			return nil
		},
	}
}
