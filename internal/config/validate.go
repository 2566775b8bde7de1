package config

import (
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

func (s *SourceConfig) Validate() error {
	// The URL may be supplied later on the command line or through Open.
	if s.URL != "" {
		if err := ValidateURL(s.URL); err != nil {
			return err
		}
	}

	if s.Transport != "udp" && s.Transport != "tcp" {
		return fmt.Errorf("transport must be 'udp' or 'tcp', got %q", s.Transport)
	}

	if s.TunnelPort < 0 || s.TunnelPort > 65535 {
		return fmt.Errorf("invalid tunnel port: %d", s.TunnelPort)
	}

	if s.AutoReconnect < 0 {
		return fmt.Errorf("auto_reconnect cannot be negative")
	}

	if s.InitialSeek < 0 {
		return fmt.Errorf("initial_seek cannot be negative")
	}

	if s.Latency < 0 {
		return fmt.Errorf("latency cannot be negative")
	}

	if s.FirstResponseTimeout <= 0 {
		return fmt.Errorf("first_response_timeout must be positive")
	}

	if s.GapCheckInterval <= 0 {
		return fmt.Errorf("gap_check_interval must be positive")
	}

	if s.DefaultSessionTimeout <= 0 {
		return fmt.Errorf("default_session_timeout must be positive")
	}

	if s.RequestPollInterval <= 0 {
		return fmt.Errorf("request_poll_interval must be positive")
	}

	return nil
}

// ValidateURL accepts rtsp:// URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "rtsp") {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func (r *ReconnectConfig) Validate() error {
	switch r.Strategy {
	case "fixed":
	case "exponential":
		if r.Multiplier < 1 {
			return fmt.Errorf("multiplier must be at least 1")
		}
		if r.MaxDelay <= 0 {
			return fmt.Errorf("max_delay must be positive for exponential strategy")
		}
	default:
		return fmt.Errorf("strategy must be 'fixed' or 'exponential', got %q", r.Strategy)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	return nil
}

func (q *QueueConfig) Validate() error {
	if q.MaxSamples <= 0 {
		return fmt.Errorf("max_samples must be positive")
	}

	if q.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive")
	}

	if q.DropWarnRate < 0 {
		return fmt.Errorf("drop_warn_rate cannot be negative")
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}

	if s.ControlRate <= 0 {
		return fmt.Errorf("control_rate must be positive")
	}

	if s.ControlBurst <= 0 {
		return fmt.Errorf("control_burst must be positive")
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}

	if r.RedisDB < 0 {
		return fmt.Errorf("redis_db cannot be negative")
	}

	if r.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 || r.HeartbeatInterval >= r.TTL {
		return fmt.Errorf("heartbeat_interval must be positive and shorter than ttl")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}
