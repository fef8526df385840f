package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/guest-messenger/internal/channel"
	"github.com/sungwon/guest-messenger/internal/queue"
	"github.com/sungwon/guest-messenger/internal/scheduler"
	"github.com/sungwon/guest-messenger/internal/storage"
	"github.com/sungwon/guest-messenger/internal/worker"
)

// Config holds all application configuration.
type Config struct {
	API       APIConfig        `mapstructure:"api"`
	Database  storage.Config   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Queue     queue.Config     `mapstructure:"queue"`
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Worker    worker.Config    `mapstructure:"worker"`
	Channel   channel.Config   `mapstructure:"channel"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Auth      AuthConfig       `mapstructure:"auth"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// AuthConfig holds API bearer token configuration. When Enabled is false
// the API accepts unauthenticated requests.
type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SigningKey string `mapstructure:"signing_key"`
	Issuer     string `mapstructure:"issuer"`
	Audience   string `mapstructure:"audience"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix GUEST_MESSENGER_ override file values.
// For example, GUEST_MESSENGER_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("GUEST_MESSENGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.StaleAfter <= c.Worker.ProcessTimeout {
		return fmt.Errorf("worker.stale_after (%s) must exceed worker.process_timeout (%s)",
			c.Worker.StaleAfter, c.Worker.ProcessTimeout)
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be at least 1, got %d", c.Scheduler.BatchSize)
	}
	if c.Auth.Enabled && c.Auth.SigningKey == "" {
		return fmt.Errorf("auth.signing_key is required when auth is enabled")
	}
	return nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits a section.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	q := queue.DefaultConfig()
	v.SetDefault("queue.type", q.Type)
	v.SetDefault("queue.key_prefix", q.KeyPrefix)
	v.SetDefault("queue.max_attempts", q.MaxAttempts)
	v.SetDefault("queue.retry_schedule", []string{})

	s := scheduler.DefaultConfig()
	v.SetDefault("scheduler.interval", s.Interval)
	v.SetDefault("scheduler.batch_size", s.BatchSize)

	w := worker.DefaultConfig()
	v.SetDefault("worker.count", w.Count)
	v.SetDefault("worker.poll_interval", w.PollInterval)
	v.SetDefault("worker.batch_size", w.BatchSize)
	v.SetDefault("worker.process_timeout", w.ProcessTimeout)
	v.SetDefault("worker.recovery_interval", w.RecoveryInterval)
	v.SetDefault("worker.stale_after", w.StaleAfter)
	v.SetDefault("worker.shutdown_timeout", w.ShutdownTimeout)

	c := channel.DefaultConfig()
	v.SetDefault("channel.base_url", c.BaseURL)
	v.SetDefault("channel.token_path", c.TokenPath)
	v.SetDefault("channel.messages_path", c.MessagesPath)
	v.SetDefault("channel.client_id", "")
	v.SetDefault("channel.client_secret", "")
	v.SetDefault("channel.message_type", c.MessageType)
	v.SetDefault("channel.timeout", c.Timeout)
	v.SetDefault("channel.token_buffer", c.TokenBuffer)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
}
