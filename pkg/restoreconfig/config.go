// Package restoreconfig loads the driver's static configuration: which
// device to target, where the firmware archive lives, and the behavioral
// flags that shape a restore session. It does not model the restore
// options dictionary sent to start_restore (see the restore package's
// options builder) — this is configuration for the driver binary itself.
package restoreconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stek29/idevicerestore/internal/bytesize"
	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
)

// Options captures everything the driver needs to start a restore session.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (IDEVICERESTORE_*) (highest priority); these
//     override only keys that also appear in the configuration file, and
//     are not read when no configuration file is found
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No Options field is set from CLI flags.
type Options struct {
	// ECID is the device's exclusive chip ID, given as decimal or a
	// 0x-prefixed hex string. Required.
	ECID string `mapstructure:"ecid" validate:"required,ecid" yaml:"ecid"`

	// ArchivePath is the path to the firmware archive (IPSW) on local
	// disk, or an s3:// URI when ArchiveSource is "s3".
	ArchivePath string `mapstructure:"archive_path" validate:"required" yaml:"archive_path"`

	// ArchiveSource selects the Archive Reader's byte source.
	// Valid values: "local", "s3".
	ArchiveSource string `mapstructure:"archive_source" validate:"required,oneof=local s3" yaml:"archive_source"`

	// Variant selects the build identity variant to restore.
	// Valid values: "Erase", "Update".
	Variant string `mapstructure:"variant" validate:"required,oneof=Erase Update" yaml:"variant"`

	// ExcludeNOR skips the NORData exchange entirely. Per spec, the
	// device's tolerance of this is unspecified; the driver aborts the
	// session immediately rather than guess at partial behavior.
	ExcludeNOR bool `mapstructure:"exclude_nor" yaml:"exclude_nor"`

	// IgnoreErrors converts per-iteration fatal errors in the message
	// loop into warnings (best-effort continue) instead of draining to
	// Finishing.
	IgnoreErrors bool `mapstructure:"ignore_errors" yaml:"ignore_errors"`

	// QuitOnFirstError forces the session's quit flag on the very first
	// classified error, overriding IgnoreErrors. Intended for CI smoke
	// runs that want to fail fast.
	QuitOnFirstError bool `mapstructure:"quit_on_first_error" yaml:"quit_on_first_error"`

	// AllowUntetheredRestore is copied into the restore options dict
	// when the target is a desktop-OS variant.
	AllowUntetheredRestore bool `mapstructure:"allow_untethered_restore" yaml:"allow_untethered_restore"`

	// TicketEndpoint labels the TSS transport the Ticket Client talks to.
	// The transport itself is injected by the caller (out of scope); this
	// is surfaced only for logging/tracing.
	TicketEndpoint string `mapstructure:"ticket_endpoint" validate:"required" yaml:"ticket_endpoint"`

	// SideChannelPreferredVersion is a reverse-proxy protocol version (1 or
	// 2). It is loaded and validated only: the Side-Channel Supervisor does
	// not read it and always attempts version 2 first, then falls back to 1.
	SideChannelPreferredVersion int `mapstructure:"side_channel_preferred_version" validate:"omitempty,oneof=1 2" yaml:"side_channel_preferred_version"`

	// ConnectTimeout bounds the Device Session's open_with_timeout call.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"required,gt=0" yaml:"connect_timeout"`

	// RebootTimeout is a ceiling for the device-event condition wait after
	// reboot. It is loaded and validated only: Session.Reboot does not read
	// it and waits a fixed 30s.
	RebootTimeout time.Duration `mapstructure:"reboot_timeout" validate:"required,gt=0" yaml:"reboot_timeout"`

	// CPIOPortDialAttempts is a connect-attempt count for the CPIO data
	// port. It is loaded and validated only: the restore command's
	// data-port dialer uses its own fixed attempt count.
	CPIOPortDialAttempts int `mapstructure:"cpio_port_dial_attempts" validate:"required,gt=0" yaml:"cpio_port_dial_attempts"`

	// CPIOPortDialDelay is a delay between CPIO data-port connect attempts.
	// It is loaded and validated only: the restore command's data-port
	// dialer uses its own fixed delay.
	CPIOPortDialDelay time.Duration `mapstructure:"cpio_port_dial_delay" validate:"required,gt=0" yaml:"cpio_port_dial_delay"`

	// MaxMessageSize bounds a single framed restore-protocol message, as a
	// human-readable size string (e.g. "64Mi"). Guards against a
	// malformed or malicious length prefix forcing a huge allocation.
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ArchiveCache configures the BadgerDB-backed archive entry-digest
	// cache.
	ArchiveCache ArchiveCacheConfig `mapstructure:"archive_cache" yaml:"archive_cache"`

	// S3 configures the optional S3-backed archive source. Only
	// consulted when ArchiveSource is "s3".
	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	// Metrics configures the Prometheus metrics registry.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string            `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool              `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64           `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig   `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ArchiveCacheConfig configures the BadgerDB-backed archive cache.
type ArchiveCacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// S3Config configures the optional S3-backed archive source.
type S3Config struct {
	Bucket string `mapstructure:"bucket" validate:"required_if=ArchiveSource s3" yaml:"bucket"`
	Key    string `mapstructure:"key" validate:"required_if=ArchiveSource s3" yaml:"key"`
	Region string `mapstructure:"region" yaml:"region"`
}

// MetricsConfig configures the Prometheus metrics registry.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from an optional YAML file, environment
// variables, and defaults, then validates the result. Environment
// variables apply only to keys present in the YAML file; without a file,
// only defaults are used.
func Load(configPath string) (*Options, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	opts := defaultOptions()
	if found {
		if err := v.Unmarshal(opts, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			durationDecodeHook(),
			byteSizeDecodeHook(),
		))); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyDefaults(opts)

	if err := Validate(opts); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return opts, nil
}

// ToLoggerConfig converts the logging section to the logger package's
// config type.
func (o *Options) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  o.Logging.Level,
		Format: o.Logging.Format,
		Output: o.Logging.Output,
	}
}

// ToTelemetryConfig converts the telemetry section to the telemetry
// package's config type.
func (o *Options) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        o.Telemetry.Enabled,
		ServiceName:    "idevicerestore",
		ServiceVersion: "dev",
		Endpoint:       o.Telemetry.Endpoint,
		Insecure:       o.Telemetry.Insecure,
		SampleRate:     o.Telemetry.SampleRate,
	}
}

// ToProfilingConfig converts the telemetry.profiling section to the
// telemetry package's profiling config type.
func (o *Options) ToProfilingConfig() telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        o.Telemetry.Profiling.Enabled,
		ServiceName:    "idevicerestore",
		ServiceVersion: "dev",
		Endpoint:       o.Telemetry.Profiling.Endpoint,
		ProfileTypes:   o.Telemetry.Profiling.ProfileTypes,
	}
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("IDEVICERESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// SaveConfig writes opts to path in YAML format.
func SaveConfig(opts *Options, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "idevicerestore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "idevicerestore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
