package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Audio: AudioSettings{Backend: "auto", FramesPerBuffer: 1024, RingBuffer: 8},
		Route: RouteSettings{
			StopTimeout:  2 * time.Second,
			PollInterval: 100 * time.Millisecond,
			RateCacheTTL: time.Minute,
		},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"unknown backend", func(s *Settings) { s.Audio.Backend = "asio" }, "audio.backend"},
		{"zero frames", func(s *Settings) { s.Audio.FramesPerBuffer = 0 }, "audio.framesperbuffer"},
		{"tiny ring", func(s *Settings) { s.Audio.RingBuffer = 1 }, "audio.ringbuffer"},
		{"zero stop timeout", func(s *Settings) { s.Route.StopTimeout = 0 }, "route.stoptimeout"},
		{"poll longer than stop", func(s *Settings) { s.Route.PollInterval = 3 * time.Second }, "route.pollinterval"},
		{"tap without path", func(s *Settings) { s.Route.Tap = TapSettings{Enabled: true, QueueDepth: 4} }, "route.tap.path"},
		{"bad listen", func(s *Settings) { s.Telemetry = TelemetrySettings{Enabled: true, Listen: "8090"} }, "telemetry.listen"},
		{"bad broker scheme", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "http://broker:1883", Topic: "twinplay"}
		}, "mqtt.broker"},
		{"empty topic", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://broker:1883", Topic: "/"}
		}, "mqtt.topic"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"bad module level", func(s *Settings) { s.Logging.ModuleLevels = map[string]string{"pipeline": "loud"} }, "module_levels.pipeline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := validSettings()
			tt.mutate(settings)

			err := ValidateSettings(settings)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings.Audio.Backend = "asio"
	settings.Route.StopTimeout = 0

	err := ValidateSettings(settings)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestBindEnvVarsReportsInvalidValues(t *testing.T) {
	t.Setenv("TWINPLAY_DEBUG", "maybe")
	t.Setenv("TWINPLAY_AUDIO_BACKEND", "asio")

	err := bindEnvVars(viperForTest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWINPLAY_DEBUG")
	assert.Contains(t, err.Error(), "TWINPLAY_AUDIO_BACKEND")
}
