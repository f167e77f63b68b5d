package config

import (
	"fmt"
	"os"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Deck.Validate(); err != nil {
		return fmt.Errorf("deck config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if s.TLSCertFile == "" {
		return fmt.Errorf("TLS certificate file is required")
	}

	if s.TLSKeyFile == "" {
		return fmt.Errorf("TLS key file is required")
	}

	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	if s.EnableHTTP && (s.HTTPPort < 1 || s.HTTPPort > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.MaxIncomingStreams <= 0 {
		return fmt.Errorf("max_incoming_streams must be positive")
	}

	if s.MaxIncomingUniStreams <= 0 {
		return fmt.Errorf("max_incoming_uni_streams must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}

	if r.DB < 0 || r.DB > 15 {
		return fmt.Errorf("invalid redis db: %d", r.DB)
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if m.Path == "" {
		return fmt.Errorf("metrics path is required when metrics are enabled")
	}

	return nil
}

func (c *CaptureConfig) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	return nil
}

func (p *PoolConfig) Validate() error {
	// Below 2 slots the engine cannot double-buffer; beyond 32 the added
	// latency defeats the purpose of a real-time pool.
	if p.Depth < 2 || p.Depth > 32 {
		return fmt.Errorf("depth must be between 2 and 32, got %d", p.Depth)
	}

	if p.PayloadSize <= 0 {
		return fmt.Errorf("payload_size must be positive")
	}

	if p.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}

	return nil
}

func (e *EngineConfig) Validate() error {
	switch e.DropPolicy {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("invalid drop_policy: %s", e.DropPolicy)
	}

	switch e.OutOfOrderPolicy {
	case "drop", "stop":
	default:
		return fmt.Errorf("invalid out_of_order_policy: %s", e.OutOfOrderPolicy)
	}

	if e.DeliveryDepth <= 0 {
		return fmt.Errorf("delivery_depth must be positive")
	}

	if e.EventDepth <= 0 {
		return fmt.Errorf("event_depth must be positive")
	}

	if e.ScheduleDepth <= 0 {
		return fmt.Errorf("schedule_depth must be positive")
	}

	return nil
}

func (d *DeckConfig) Validate() error {
	if d.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}

	if d.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}

	if d.StatusPollHz <= 0 {
		return fmt.Errorf("status_poll_hz must be positive")
	}

	if d.LockWaitTimeout <= 0 {
		return fmt.Errorf("lock_wait_timeout must be positive")
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	if r.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}

	if r.HeartbeatTimeout <= r.HeartbeatInterval {
		return fmt.Errorf("heartbeat_timeout must exceed heartbeat_interval")
	}

	return nil
}
