package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Deck     DeckConfig     `mapstructure:"deck"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type ServerConfig struct {
	// HTTP/3 control API
	HTTP3Port       int           `mapstructure:"http3_port"`
	TLSCertFile     string        `mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `mapstructure:"tls_key_file"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HTTP/1.1 and HTTP/2 fallback
	EnableHTTP bool `mapstructure:"enable_http"`
	HTTPPort   int  `mapstructure:"http_port"`

	// QUIC specific
	MaxIncomingStreams    int64         `mapstructure:"max_incoming_streams"`
	MaxIncomingUniStreams int64         `mapstructure:"max_incoming_uni_streams"`
	MaxIdleTimeout        time.Duration `mapstructure:"max_idle_timeout"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// CaptureConfig configures the streaming engine and frame buffer pool.
type CaptureConfig struct {
	Pool   PoolConfig   `mapstructure:"pool"`
	Engine EngineConfig `mapstructure:"engine"`
}

type PoolConfig struct {
	// Depth is the number of pre-allocated frame slots. Sized to absorb
	// jitter between the hardware callback and the consumer (3-8 typical).
	Depth int `mapstructure:"depth"`
	// PayloadSize is the per-slot payload capacity in bytes.
	PayloadSize int `mapstructure:"payload_size"`
	// AcquireTimeout bounds a blocking consumer-side acquire.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type EngineConfig struct {
	// DropPolicy selects behaviour when the pool is exhausted under
	// capture load: "drop_oldest" or "drop_newest".
	DropPolicy string `mapstructure:"drop_policy"`
	// OutOfOrderPolicy selects behaviour for non-monotonic capture
	// timecodes: "drop" or "stop".
	OutOfOrderPolicy string `mapstructure:"out_of_order_policy"`
	// DeliveryDepth is the capacity of the frame delivery channel.
	DeliveryDepth int `mapstructure:"delivery_depth"`
	// EventDepth is the capacity of the status/event channel.
	EventDepth int `mapstructure:"event_depth"`
	// ScheduleDepth is the capacity of the playback schedule queue.
	ScheduleDepth int `mapstructure:"schedule_depth"`
}

// DeckConfig configures the RS-422 deck control session.
type DeckConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	// StatusPollHz is the rate of the transport status poll loop.
	StatusPollHz float64 `mapstructure:"status_poll_hz"`
	// LockWaitTimeout bounds WaitForLock before record.
	LockWaitTimeout time.Duration `mapstructure:"lock_wait_timeout"`
}

type RegistryConfig struct {
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(configPath)

	// Environment variable override
	viper.SetEnvPrefix("SLATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration populated with defaults only, without
// touching the filesystem. Used by tests and the simulated device path.
func Default() *Config {
	v := viper.New()
	setDefaultsOn(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config unmarshal: %v", err))
	}
	return &cfg
}

func setDefaults() {
	setDefaultsOn(viper.GetViper())
}

func setDefaultsOn(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http3_port", 443)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.enable_http", false)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.max_incoming_streams", 1000)
	v.SetDefault("server.max_incoming_uni_streams", 100)
	v.SetDefault("server.max_idle_timeout", "30s")

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Capture defaults
	v.SetDefault("capture.pool.depth", 4)
	v.SetDefault("capture.pool.payload_size", 8294400) // 1080p 8-bit YUV 4:2:2
	v.SetDefault("capture.pool.acquire_timeout", "1s")
	v.SetDefault("capture.engine.drop_policy", "drop_oldest")
	v.SetDefault("capture.engine.out_of_order_policy", "drop")
	v.SetDefault("capture.engine.delivery_depth", 4)
	v.SetDefault("capture.engine.event_depth", 64)
	v.SetDefault("capture.engine.schedule_depth", 8)

	// Deck defaults
	v.SetDefault("deck.command_timeout", "500ms")
	v.SetDefault("deck.max_retries", 3)
	v.SetDefault("deck.status_poll_hz", 10.0)
	v.SetDefault("deck.lock_wait_timeout", "5s")

	// Registry defaults
	v.SetDefault("registry.ttl", "5m")
	v.SetDefault("registry.heartbeat_interval", "10s")
	v.SetDefault("registry.heartbeat_timeout", "30s")
}
