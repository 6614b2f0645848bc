package config

import "time"

// BusConfig holds canvas bus server configuration.
type BusConfig struct {
	Addr            string `json:"addr" mapstructure:"addr"`
	MaxConnections  int    `json:"max_connections" mapstructure:"max_connections"`
	PingInterval    int    `json:"ping_interval_seconds" mapstructure:"ping_interval_seconds"`
	WriteTimeout    int    `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
	ReadBufferSize  int    `json:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int    `json:"write_buffer_size" mapstructure:"write_buffer_size"`
	SendBufferSize  int    `json:"send_buffer_size" mapstructure:"send_buffer_size"`

	// Poll clients silent for longer than this are dropped.
	PollClientTTL int `json:"poll_client_ttl_seconds" mapstructure:"poll_client_ttl_seconds"`
	SweepInterval int `json:"sweep_interval_seconds" mapstructure:"sweep_interval_seconds"`

	// Outbound messages kept for poll clients. Oldest are dropped past this.
	MaxBufferedMessages int `json:"max_buffered_messages" mapstructure:"max_buffered_messages"`

	InboxCapacity int    `json:"inbox_capacity" mapstructure:"inbox_capacity"`
	InboxBackend  string `json:"inbox_backend" mapstructure:"inbox_backend"`
	BridgeEnabled bool   `json:"bridge_enabled" mapstructure:"bridge_enabled"`

	LogLevel  string `json:"log_level" mapstructure:"log_level"`
	LogFormat string `json:"log_format" mapstructure:"log_format"`
}

// Inbox backends.
const (
	InboxMemory = "memory"
	InboxRedis  = "redis"
)

// DefaultConfig returns the default canvas bus configuration.
func DefaultConfig() *BusConfig {
	return &BusConfig{
		Addr:                ":8080",
		MaxConnections:      1000,
		PingInterval:        30,
		WriteTimeout:        10,
		ReadBufferSize:      1024,
		WriteBufferSize:     1024,
		SendBufferSize:      256,
		PollClientTTL:       300,
		SweepInterval:       30,
		MaxBufferedMessages: 10000,
		InboxCapacity:       0,
		InboxBackend:        InboxMemory,
		BridgeEnabled:       false,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// PingEvery returns the push keepalive period.
func (c *BusConfig) PingEvery() time.Duration {
	return time.Duration(c.PingInterval) * time.Second
}

// WriteDeadline returns the per-frame write timeout.
func (c *BusConfig) WriteDeadline() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// PollTTL returns how long an idle poll client is retained.
func (c *BusConfig) PollTTL() time.Duration {
	return time.Duration(c.PollClientTTL) * time.Second
}

// SweepEvery returns the stale poll client sweep period.
func (c *BusConfig) SweepEvery() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}
