package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Stream transport settings
	Stream StreamConfig `json:"stream"`

	// Live aggregator settings
	Live LiveConfig `json:"live"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LiveConfig holds the aggregator's window and buffer settings.
type LiveConfig struct {
	// BufferSize is the rolling feed capacity.
	BufferSize int `json:"bufferSize"`

	// TimelineBuckets is the fixed bucket count K of the fraud timeline.
	TimelineBuckets int `json:"timelineBuckets"`

	// BucketWidth is the width of one timeline bucket.
	BucketWidth time.Duration `json:"bucketWidth"`

	// PatternWindow is the trailing window scoping the pattern ranking.
	PatternWindow time.Duration `json:"patternWindow"`

	// PatternTopK limits the pattern ranking length.
	PatternTopK int `json:"patternTopK"`

	// NotifyCooldown rate-limits user-facing fraud notifications.
	// Verdict reports themselves are not rate-limited.
	NotifyCooldown time.Duration `json:"notifyCooldown"`

	// ReportVerdicts enables the upstream fraud report side effect.
	ReportVerdicts bool `json:"reportVerdicts"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite store, in-memory cache, channel event bus, SSE transport.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Stream: StreamConfig{
			Transport:         "sse",
			MaxReconnects:     5,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			ReadTimeout:       90 * time.Second,
			PingInterval:      30 * time.Second,
			ReportTimeout:     10 * time.Second,
		},
		Live: LiveConfig{
			BufferSize:      100,
			TimelineBuckets: 8,
			BucketWidth:     15 * time.Minute,
			PatternWindow:   time.Hour,
			PatternTopK:     5,
			NotifyCooldown:  3 * time.Second,
			ReportVerdicts:  true,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}
