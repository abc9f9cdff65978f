package cli

import (
	"github.com/spf13/cobra"

	"driftwatch/logger"
)

func NewBuildCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Fingerprint the targets and replace the baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open()
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.engine.Build(cmd.Context())
			if err != nil {
				return err
			}
			logger.Infof("Baseline with %d records written to %s", len(c.Files), s.cfg.BaselinePath)
			return nil
		},
	}
}
