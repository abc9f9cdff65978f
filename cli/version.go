package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"driftwatch/version"
)

func NewVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(app.Stdout, "%s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
