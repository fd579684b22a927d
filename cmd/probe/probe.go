package probe

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/twinplay/internal/app"
	"github.com/tphakala/twinplay/internal/conf"
)

// Command creates the command that dry-runs format negotiation.
func Command(settings *conf.Settings) *cobra.Command {
	var primary, secondary string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show supported sample rates and the format a route would use",
		Long: "Probe resolves the loopback of the primary device, lists the sample rates both " +
			"outputs accept and runs format negotiation without routing any audio.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := app.NewPlatform(settings)
			if err != nil {
				return err
			}
			report, err := app.Probe(cmd.Context(), platform, primary, secondary)
			if err != nil {
				return err
			}
			app.WriteProbeReport(cmd.OutOrStdout(), report)
			return report.Err
		},
	}

	cmd.Flags().StringVarP(&primary, "primary", "p", "", "Primary output device (id, name or name fragment; default output if empty)")
	cmd.Flags().StringVarP(&secondary, "secondary", "s", "", "Secondary output device (id, name or name fragment; suggested if empty)")
	return cmd
}
