// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values that other packages rely on.
const (
	DefaultFramesPerBuffer = 1024
	DefaultStopTimeout     = 2 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRateCacheTTL    = 5 * time.Minute
	DefaultTelemetryListen = "localhost:8090"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/twinplay.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.framesperbuffer", DefaultFramesPerBuffer)
	v.SetDefault("audio.ringbuffer", 8)

	v.SetDefault("route.stoptimeout", DefaultStopTimeout)
	v.SetDefault("route.pollinterval", DefaultPollInterval)
	v.SetDefault("route.ratecachettl", DefaultRateCacheTTL)
	v.SetDefault("route.tap.enabled", false)
	v.SetDefault("route.tap.path", "twinplay-tap.wav")
	v.SetDefault("route.tap.queuedepth", 64)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", DefaultTelemetryListen)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "twinplay")
	v.SetDefault("mqtt.clientid", "twinplay")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", true)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
