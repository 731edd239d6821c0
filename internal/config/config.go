// Package config loads process configuration for the warden binary from an
// optional YAML file and WARDEN_ environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/warden/pkg/observability"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WARDEN_SERVER_ADDR.
const EnvPrefix = "WARDEN"

// Config holds the full process configuration.
type Config struct {
	Log         LogConfig                   `yaml:"log" mapstructure:"log"`
	Server      ServerConfig                `yaml:"server" mapstructure:"server"`
	MCP         MCPConfig                   `yaml:"mcp" mapstructure:"mcp"`
	Policy      PolicyConfig                `yaml:"policy" mapstructure:"policy"`
	Redis       RedisConfig                 `yaml:"redis" mapstructure:"redis"`
	Tracing     observability.TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Sampler     SamplerConfig               `yaml:"sampler" mapstructure:"sampler"`
	Maintenance MaintenanceConfig           `yaml:"maintenance" mapstructure:"maintenance"`
	Sinks       SinkConfig                  `yaml:"sinks" mapstructure:"sinks"`
	Commands    CommandsConfig              `yaml:"commands" mapstructure:"commands"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr      string  `yaml:"addr" mapstructure:"addr"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// MCPConfig configures the MCP server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	Port      int    `yaml:"port" mapstructure:"port"`
	Agent     string `yaml:"agent" mapstructure:"agent"`
}

// PolicyConfig points at the policy source. File wins over Dir.
type PolicyConfig struct {
	File  string `yaml:"file" mapstructure:"file"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// RedisConfig enables the distributed locker and the event stream when Addr is set.
type RedisConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	LockPrefix   string        `yaml:"lock_prefix" mapstructure:"lock_prefix"`
	LockTTL      time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
	Stream       string        `yaml:"stream" mapstructure:"stream"`
	StreamMaxLen int64         `yaml:"stream_max_len" mapstructure:"stream_max_len"`
}

// SamplerConfig configures the host cpu/memory sampler.
type SamplerConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// MaintenanceConfig configures the approval expiry sweep.
type MaintenanceConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// CommandsConfig points at the allow-list of external commands exposed as proc.* operations.
type CommandsConfig struct {
	File    string `yaml:"file" mapstructure:"file"`
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
}

// SinkConfig configures outbound event sinks.
type SinkConfig struct {
	Redact        bool     `yaml:"redact" mapstructure:"redact"`
	RedactKeys    []string `yaml:"redact_keys" mapstructure:"redact_keys"`
	EncryptionKey string   `yaml:"encryption_key" mapstructure:"encryption_key"`
}

// Key decodes the hex encryption key. It returns nil when encryption is off.
func (s SinkConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config: encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Load reads configuration from path (or ./warden.yaml when empty) and the environment.
// A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("warden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.port", 8081)
	v.SetDefault("mcp.agent", "mcp-agent")
	v.SetDefault("policy.file", "")
	v.SetDefault("policy.dir", "")
	v.SetDefault("policy.watch", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_prefix", "warden:")
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.stream", "warden:events")
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("tracing.service_name", "warden")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("sampler.enabled", true)
	v.SetDefault("sampler.interval", 15*time.Second)
	v.SetDefault("maintenance.sweep_interval", time.Minute)
	v.SetDefault("sinks.redact", true)
	v.SetDefault("sinks.redact_keys", []string{"(?i)password", "(?i)token", "(?i)secret"})
	v.SetDefault("sinks.encryption_key", "")
	v.SetDefault("commands.file", "")
	v.SetDefault("commands.base_dir", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.MCP.Transport {
	case "stdio", "sse":
	default:
		errs = append(errs, fmt.Errorf("mcp.transport must be stdio or sse, got %q", c.MCP.Transport))
	}
	if c.MCP.Port <= 0 || c.MCP.Port > 65535 {
		errs = append(errs, fmt.Errorf("mcp.port out of range: %d", c.MCP.Port))
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.burst must be positive"))
	}
	if c.Maintenance.SweepInterval <= 0 {
		errs = append(errs, errors.New("maintenance.sweep_interval must be positive"))
	}
	if c.Sampler.Enabled && c.Sampler.Interval <= 0 {
		errs = append(errs, errors.New("sampler.interval must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be positive"))
	}
	if _, err := c.Sinks.Key(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
