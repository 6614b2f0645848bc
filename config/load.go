package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CANVASBUS_ADDR.
const EnvPrefix = "CANVASBUS"

// Load builds a BusConfig from defaults, an optional config file, .env files
// and the environment, in increasing order of precedence. An empty path
// searches for canvasbus.yaml in the working directory.
func Load(path string) (*BusConfig, error) {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("canvasbus")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &BusConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *BusConfig) {
	v.SetDefault("addr", d.Addr)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("ping_interval_seconds", d.PingInterval)
	v.SetDefault("write_timeout_seconds", d.WriteTimeout)
	v.SetDefault("read_buffer_size", d.ReadBufferSize)
	v.SetDefault("write_buffer_size", d.WriteBufferSize)
	v.SetDefault("send_buffer_size", d.SendBufferSize)
	v.SetDefault("poll_client_ttl_seconds", d.PollClientTTL)
	v.SetDefault("sweep_interval_seconds", d.SweepInterval)
	v.SetDefault("max_buffered_messages", d.MaxBufferedMessages)
	v.SetDefault("inbox_capacity", d.InboxCapacity)
	v.SetDefault("inbox_backend", d.InboxBackend)
	v.SetDefault("bridge_enabled", d.BridgeEnabled)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Validate rejects settings the bus cannot run with.
func (c *BusConfig) Validate() error {
	switch {
	case c.PingInterval <= 0:
		return fmt.Errorf("ping_interval_seconds must be positive")
	case c.WriteTimeout <= 0:
		return fmt.Errorf("write_timeout_seconds must be positive")
	case c.SendBufferSize <= 0:
		return fmt.Errorf("send_buffer_size must be positive")
	case c.PollClientTTL <= 0:
		return fmt.Errorf("poll_client_ttl_seconds must be positive")
	case c.SweepInterval <= 0:
		return fmt.Errorf("sweep_interval_seconds must be positive")
	case c.MaxBufferedMessages <= 0:
		return fmt.Errorf("max_buffered_messages must be positive")
	case c.InboxCapacity < 0:
		return fmt.Errorf("inbox_capacity must not be negative")
	}
	switch c.InboxBackend {
	case InboxMemory, InboxRedis:
	default:
		return fmt.Errorf("inbox_backend must be %q or %q, got %q", InboxMemory, InboxRedis, c.InboxBackend)
	}
	return nil
}
