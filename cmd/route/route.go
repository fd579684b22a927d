package route

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/twinplay/internal/app"
	"github.com/tphakala/twinplay/internal/conf"
)

// Command creates the command that routes audio until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	var opts app.RouteOptions

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route the primary device's audio to the secondary device",
		Long:  "Route captures what the primary output plays and renders it to the secondary output until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := app.NewPlatform(settings)
			if err != nil {
				return err
			}
			return app.Route(cmd.Context(), settings, platform, opts)
		},
	}

	if err := setupFlags(cmd, settings, &opts); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the route command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *app.RouteOptions) error {
	cmd.Flags().StringVarP(&opts.Primary, "primary", "p", "", "Primary output device (id, name or name fragment; default output if empty)")
	cmd.Flags().StringVarP(&opts.Secondary, "secondary", "s", "", "Secondary output device (id, name or name fragment; suggested if empty)")
	cmd.Flags().StringVar(&opts.TapPath, "tap", "", "Write the routed stream to a WAV file or directory")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", viper.GetBool("mqtt.enabled"), "Publish router status over MQTT")

	// Only settings-backed flags are bound; device choices are never persisted.
	for key, name := range map[string]string{
		"telemetry.enabled": "telemetry",
		"telemetry.listen":  "listen",
		"mqtt.enabled":      "mqtt",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
