package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/twinplay/cmd/devices"
	"github.com/tphakala/twinplay/cmd/probe"
	"github.com/tphakala/twinplay/cmd/route"
	"github.com/tphakala/twinplay/internal/buildinfo"
	"github.com/tphakala/twinplay/internal/conf"
	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
	"github.com/tphakala/twinplay/internal/privacy"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "twinplay",
		Short:         "Play one output device's audio on a second device",
		Long:          "TwinPlay captures the loopback of a primary output device and renders it to a secondary output device.",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		// Binding only fails on programming errors.
		panic(err)
	}

	rootCmd.AddCommand(
		devices.Command(settings),
		probe.Command(settings),
		route.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, build)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushTelemetry(telemetryFlushTimeout)
		if err := logger.Global().Flush(); err != nil {
			fmt.Printf("failed to flush logs: %v\n", err)
		}
	}

	return rootCmd
}

// initialize runs before any subcommand: it installs the central logger and
// the optional Sentry reporter.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	logCfg := settings.Logging
	if settings.Debug {
		logCfg.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		errors.SetPrivacyScrubber(privacy.ScrubMessage)
		if err := errors.InitSentry(settings.Sentry.DSN, build.GetVersion()); err != nil {
			logger.Global().Module("main").Warn("sentry disabled", logger.Error(err))
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Backend, "backend", viper.GetString("audio.backend"), "Audio backend (auto, wasapi, pulseaudio, alsa, coreaudio, null)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
