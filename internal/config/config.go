package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Server    ServerConfig    `mapstructure:"server"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SourceConfig is the per-session surface fixed before a session starts.
type SourceConfig struct {
	URL        string `mapstructure:"url"`
	Transport  string `mapstructure:"transport"`   // udp or tcp (interleaved)
	TunnelPort int    `mapstructure:"tunnel_port"` // RTSP-over-HTTP port, 0 disables
	UserAgent  string `mapstructure:"user_agent"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`

	AutoReconnect time.Duration `mapstructure:"auto_reconnect"` // 0 disables
	InitialSeek   time.Duration `mapstructure:"initial_seek"`
	Latency       time.Duration `mapstructure:"latency"`

	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	FirstResponseTimeout  time.Duration `mapstructure:"first_response_timeout"`
	GapCheckInterval      time.Duration `mapstructure:"gap_check_interval"`
	DefaultSessionTimeout time.Duration `mapstructure:"default_session_timeout"`
	RequestPollInterval   time.Duration `mapstructure:"request_poll_interval"`

	VideoBufferSize int `mapstructure:"video_buffer_size"` // socket receive buffer, bytes
	AudioBufferSize int `mapstructure:"audio_buffer_size"`
}

type ReconnectConfig struct {
	Strategy   string        `mapstructure:"strategy"` // fixed or exponential
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxRetries int           `mapstructure:"max_retries"` // 0 = unlimited
}

type QueueConfig struct {
	MaxSamples   int     `mapstructure:"max_samples"`
	MaxBytes     int64   `mapstructure:"max_bytes"`
	DropWarnRate float64 `mapstructure:"drop_warn_rate"` // warnings per second
}

// ServerConfig configures the HTTP control and status API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ControlRate     float64       `mapstructure:"control_rate"` // control requests per second
	ControlBurst    int           `mapstructure:"control_burst"`
}

type RegistryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// Load reads configuration from configPath (optional) and RTSPSOURCE_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("RTSPSOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by Load with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.url", "")
	v.SetDefault("source.transport", "udp")
	v.SetDefault("source.tunnel_port", 0)
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.username", "")
	v.SetDefault("source.password", "")
	v.SetDefault("source.auto_reconnect", "0s")
	v.SetDefault("source.initial_seek", "0s")
	v.SetDefault("source.latency", "500ms")
	v.SetDefault("source.connect_timeout", "5s")
	v.SetDefault("source.first_response_timeout", "2s")
	v.SetDefault("source.gap_check_interval", "2s")
	v.SetDefault("source.default_session_timeout", "60s")
	v.SetDefault("source.request_poll_interval", "100ms")
	v.SetDefault("source.video_buffer_size", 256*1024)
	v.SetDefault("source.audio_buffer_size", 4*1024)

	// Reconnect defaults
	v.SetDefault("reconnect.strategy", "fixed")
	v.SetDefault("reconnect.max_delay", "1m")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.max_retries", 0)

	// Queue defaults
	v.SetDefault("queue.max_samples", 4096)
	v.SetDefault("queue.max_bytes", 64*1024*1024)
	v.SetDefault("queue.drop_warn_rate", 1.0)

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen_addr", "127.0.0.1")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.control_rate", 5.0)
	v.SetDefault("server.control_burst", 10)

	// Registry defaults
	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.redis_addr", "localhost:6379")
	v.SetDefault("registry.redis_password", "")
	v.SetDefault("registry.redis_db", 0)
	v.SetDefault("registry.key_prefix", "rtspsource:sessions:")
	v.SetDefault("registry.ttl", "30s")
	v.SetDefault("registry.heartbeat_interval", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
}
