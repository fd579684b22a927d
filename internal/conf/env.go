// env.go - Environment variable bindings for TwinPlay
package conf

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps one environment variable onto a viper key
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "TWINPLAY_DEBUG", validateEnvBool},
		{"logging.default_level", "TWINPLAY_LOG_LEVEL", validateEnvLogLevel},
		{"audio.backend", "TWINPLAY_AUDIO_BACKEND", validateEnvBackend},
		{"telemetry.enabled", "TWINPLAY_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "TWINPLAY_TELEMETRY_LISTEN", validateEnvListen},
		{"mqtt.enabled", "TWINPLAY_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "TWINPLAY_MQTT_BROKER", nil},
		{"mqtt.username", "TWINPLAY_MQTT_USERNAME", nil},
		{"mqtt.password", "TWINPLAY_MQTT_PASSWORD", nil},
		{"sentry.enabled", "TWINPLAY_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "TWINPLAY_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and reports invalid values
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	if !slices.Contains(supportedLogLevels, strings.ToLower(value)) {
		return fmt.Errorf("must be one of %v", supportedLogLevels)
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !slices.Contains(SupportedBackends, strings.ToLower(value)) {
		return fmt.Errorf("must be one of %v", SupportedBackends)
	}
	return nil
}

func validateEnvListen(value string) error {
	_, _, err := net.SplitHostPort(value)
	return err
}
