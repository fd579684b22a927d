package devices

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/twinplay/internal/app"
	"github.com/tphakala/twinplay/internal/conf"
)

// Command creates the command that lists audio endpoints.
func Command(settings *conf.Settings) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List output, loopback and input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := app.NewPlatform(settings)
			if err != nil {
				return err
			}
			return app.ListDevices(cmd.Context(), platform, cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", app.FormatText, "Output format: text, json or yaml")
	return cmd
}
