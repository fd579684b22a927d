// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// SupportedBackends lists the accepted values of audio.backend
var SupportedBackends = []string{"auto", "wasapi", "pulseaudio", "alsa", "coreaudio", "null"}

var supportedLogLevels = []string{"trace", "debug", "info", "warn", "error"}

const maxFramesPerBuffer = 16384

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateLoggingSettings(settings)...)
	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateRouteSettings(&settings.Route)...)
	ve.Errors = append(ve.Errors, validateTelemetrySettings(&settings.Telemetry)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(settings *Settings) []string {
	var errs []string

	if level := settings.Logging.DefaultLevel; level != "" && !slices.Contains(supportedLogLevels, level) {
		errs = append(errs, fmt.Sprintf("logging.default_level %q is not one of %v", level, supportedLogLevels))
	}
	for module, level := range settings.Logging.ModuleLevels {
		if !slices.Contains(supportedLogLevels, level) {
			errs = append(errs, fmt.Sprintf("logging.module_levels.%s %q is not one of %v", module, level, supportedLogLevels))
		}
	}
	if fo := settings.Logging.FileOutput; fo != nil && fo.Enabled && fo.Path == "" {
		errs = append(errs, "logging.file_output.path is required when file output is enabled")
	}

	return errs
}

func validateAudioSettings(audio *AudioSettings) []string {
	var errs []string

	audio.Backend = strings.ToLower(strings.TrimSpace(audio.Backend))
	if !slices.Contains(SupportedBackends, audio.Backend) {
		errs = append(errs, fmt.Sprintf("audio.backend %q is not one of %v", audio.Backend, SupportedBackends))
	}
	if audio.FramesPerBuffer == 0 || audio.FramesPerBuffer > maxFramesPerBuffer {
		errs = append(errs, fmt.Sprintf("audio.framesperbuffer must be between 1 and %d", maxFramesPerBuffer))
	}
	if audio.RingBuffer < 2 {
		errs = append(errs, "audio.ringbuffer must hold at least 2 periods")
	}

	return errs
}

func validateRouteSettings(route *RouteSettings) []string {
	var errs []string

	if route.StopTimeout <= 0 {
		errs = append(errs, "route.stoptimeout must be positive")
	}
	if route.PollInterval < time.Millisecond {
		errs = append(errs, "route.pollinterval must be at least 1ms")
	} else if route.StopTimeout > 0 && route.PollInterval >= route.StopTimeout {
		errs = append(errs, "route.pollinterval must be shorter than route.stoptimeout")
	}
	if route.RateCacheTTL < 0 {
		errs = append(errs, "route.ratecachettl cannot be negative")
	}
	if route.Tap.Enabled {
		if route.Tap.Path == "" {
			errs = append(errs, "route.tap.path is required when the tap is enabled")
		}
		if route.Tap.QueueDepth <= 0 {
			errs = append(errs, "route.tap.queuedepth must be positive")
		}
	}

	return errs
}

func validateTelemetrySettings(telemetry *TelemetrySettings) []string {
	if !telemetry.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(telemetry.Listen); err != nil {
		return []string{fmt.Sprintf("telemetry.listen %q is not host:port: %v", telemetry.Listen, err)}
	}
	return nil
}

func validateMQTTSettings(mqtt *MQTTSettings) []string {
	if !mqtt.Enabled {
		return nil
	}

	var errs []string
	u, err := url.Parse(mqtt.Broker)
	switch {
	case mqtt.Broker == "":
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	case err != nil:
		errs = append(errs, fmt.Sprintf("mqtt.broker %q is not a valid URL: %v", mqtt.Broker, err))
	case !slices.Contains([]string{"tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss"}, u.Scheme):
		errs = append(errs, fmt.Sprintf("mqtt.broker scheme %q is not supported", u.Scheme))
	}
	if strings.Trim(mqtt.Topic, "/") == "" {
		errs = append(errs, "mqtt.topic is required when mqtt is enabled")
	}

	return errs
}
