package restoreconfig

import (
	"os"
	"time"

	"github.com/stek29/idevicerestore/internal/bytesize"
)

// defaultOptions returns an Options pre-populated with the driver's
// defaults, prior to unmarshaling any config file or environment
// overrides on top.
func defaultOptions() *Options {
	return &Options{
		ArchiveSource:               "local",
		Variant:                     "Erase",
		TicketEndpoint:              "https://gs.apple.com/TSS/controller?action=2",
		SideChannelPreferredVersion: 2,
		ConnectTimeout:              30 * time.Second,
		RebootTimeout:               30 * time.Second,
		CPIOPortDialAttempts:        10,
		CPIOPortDialDelay:           time.Second,
		MaxMessageSize:              64 * bytesize.MiB,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		ArchiveCache: ArchiveCacheConfig{
			Enabled: true,
			Dir:     defaultCacheDir(),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyDefaults fills any zero-valued fields left after unmarshaling a
// config file, so partial config files are valid.
func applyDefaults(opts *Options) {
	d := defaultOptions()

	if opts.ArchiveSource == "" {
		opts.ArchiveSource = d.ArchiveSource
	}
	if opts.Variant == "" {
		opts.Variant = d.Variant
	}
	if opts.TicketEndpoint == "" {
		opts.TicketEndpoint = d.TicketEndpoint
	}
	if opts.SideChannelPreferredVersion == 0 {
		opts.SideChannelPreferredVersion = d.SideChannelPreferredVersion
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = d.ConnectTimeout
	}
	if opts.RebootTimeout == 0 {
		opts.RebootTimeout = d.RebootTimeout
	}
	if opts.CPIOPortDialAttempts == 0 {
		opts.CPIOPortDialAttempts = d.CPIOPortDialAttempts
	}
	if opts.CPIOPortDialDelay == 0 {
		opts.CPIOPortDialDelay = d.CPIOPortDialDelay
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = d.MaxMessageSize
	}
	if opts.Logging.Level == "" {
		opts.Logging.Level = d.Logging.Level
	}
	if opts.Logging.Format == "" {
		opts.Logging.Format = d.Logging.Format
	}
	if opts.Logging.Output == "" {
		opts.Logging.Output = d.Logging.Output
	}
	if opts.Telemetry.Endpoint == "" {
		opts.Telemetry.Endpoint = d.Telemetry.Endpoint
	}
	if opts.Telemetry.SampleRate == 0 {
		opts.Telemetry.SampleRate = d.Telemetry.SampleRate
	}
	if opts.ArchiveCache.Dir == "" {
		opts.ArchiveCache.Dir = d.ArchiveCache.Dir
	}
	if opts.Metrics.Port == 0 {
		opts.Metrics.Port = d.Metrics.Port
	}
}

func defaultCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return xdgCache + "/idevicerestore"
	}
	return "/tmp/idevicerestore-cache"
}
