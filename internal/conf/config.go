// Package conf loads TwinPlay settings from defaults, an optional YAML file,
// TWINPLAY_* environment variables and command line flags, in increasing order
// of precedence.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/twinplay/internal/errors"
	"github.com/tphakala/twinplay/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings contains all configuration options for TwinPlay. Device selections
// are deliberately absent: they are passed per invocation and never stored.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Logging logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`

	Audio     AudioSettings     `yaml:"audio" mapstructure:"audio"`
	Route     RouteSettings     `yaml:"route" mapstructure:"route"`
	Telemetry TelemetrySettings `yaml:"telemetry" mapstructure:"telemetry"`
	MQTT      MQTTSettings      `yaml:"mqtt" mapstructure:"mqtt"`
	Sentry    SentrySettings    `yaml:"sentry" mapstructure:"sentry"`
}

// AudioSettings controls the platform audio layer
type AudioSettings struct {
	Backend         string `yaml:"backend" mapstructure:"backend"`                 // auto, wasapi, pulseaudio, alsa, coreaudio, null
	FramesPerBuffer uint32 `yaml:"framesperbuffer" mapstructure:"framesperbuffer"` // period size for capture and render streams
	RingBuffer      int    `yaml:"ringbuffer" mapstructure:"ringbuffer"`           // render ring buffer capacity in periods
}

// RouteSettings controls the routing pipeline
type RouteSettings struct {
	StopTimeout  time.Duration `yaml:"stoptimeout" mapstructure:"stoptimeout"`   // how long Stop waits for the worker
	PollInterval time.Duration `yaml:"pollinterval" mapstructure:"pollinterval"` // worker run-flag check interval
	RateCacheTTL time.Duration `yaml:"ratecachettl" mapstructure:"ratecachettl"` // supported-rate probe cache lifetime
	Tap          TapSettings   `yaml:"tap" mapstructure:"tap"`
}

// TapSettings configures the optional WAV tap of the routed stream
type TapSettings struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Path       string `yaml:"path" mapstructure:"path"`
	QueueDepth int    `yaml:"queuedepth" mapstructure:"queuedepth"` // buffers held between callback and writer
}

// TelemetrySettings configures the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MQTTSettings configures router status publishing
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"clientid" mapstructure:"clientid"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// SentrySettings configures optional error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the config file and environment variables into Settings
// using the global viper instance, so flags bound with viper.BindPFlags apply.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := load(viper.GetViper(), true)
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// load is Load against an explicit viper instance.
func load(v *viper.Viper, createMissing bool) (*Settings, error) {
	if err := initViper(v, createMissing); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper applies defaults, env bindings and reads config.yaml from the
// default config paths. A missing file is created from the embedded default
// when createMissing is set.
func initViper(v *viper.Viper, createMissing bool) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		// Invalid environment values are reported, validation catches the rest.
		fmt.Fprintln(os.Stderr, err)
	}

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var configFileNotFoundError viper.ConfigFileNotFoundError
	if errors.As(err, &configFileNotFoundError) {
		if createMissing {
			return createDefaultConfig(v)
		}
		return nil
	}

	return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
		Component("configuration").
		Category(errors.CategoryConfiguration).
		Build()
}

// createDefaultConfig writes the embedded config.yaml to the first default path
func createDefaultConfig(v *viper.Viper) error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(fmt.Errorf("error creating directories for config file: %w", err)).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Build()
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		// Read-only homes still get the built-in defaults.
		return nil
	}

	fmt.Fprintln(os.Stderr, "Created default config file at:", configPath)
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// getDefaultConfig returns the embedded default config.yaml
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, errors.New(fmt.Errorf("error reading embedded config: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return data, nil
}

// GetSettings returns the most recently loaded settings, or nil
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(fmt.Errorf("error replacing config file: %w", err)).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Build()
	}

	return nil
}
