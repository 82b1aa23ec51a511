package redisstream

import (
	"fmt"
	"time"
)

// DefaultMaxBatchBytes bounds a pipelined batch. Redis itself accepts far
// larger payloads; the bound keeps one publish call from monopolizing the
// connection.
const DefaultMaxBatchBytes = 1024 * 1024

// Config for the Redis Streams transport.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string
	DialTimeout   time.Duration

	// Stream management
	MaxLenApprox int64

	// Batch bounds
	MaxBatchBytes    int
	MaxBatchMessages int
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:          "127.0.0.1:6379",
		DialTimeout:   2 * time.Second,
		MaxBatchBytes: DefaultMaxBatchBytes,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.DB < 0 {
		return fmt.Errorf("config: db must be >= 0, got %d", c.DB)
	}
	if c.MaxLenApprox < 0 {
		return fmt.Errorf("config: max_len_approx must be >= 0, got %d", c.MaxLenApprox)
	}
	if c.MaxBatchBytes < 0 || c.MaxBatchMessages < 0 {
		return fmt.Errorf("config: batch bounds must be >= 0")
	}
	return nil
}

// ToMap converts Config to the generic map for the transport factory.
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"username":           c.Username,
		"password":           c.Password,
		"db":                 c.DB,
		"tls":                c.TLS,
		"tls_server_name":    c.TLSServerName,
		"dial_timeout":       c.DialTimeout,
		"max_len_approx":     c.MaxLenApprox,
		"max_batch_bytes":    c.MaxBatchBytes,
		"max_batch_messages": c.MaxBatchMessages,
	}
}

// ConfigFromMap safely converts a generic map to Config with defaults.
// Numeric values are accepted as any Go integer or float (YAML decodes to int,
// JSON to float64); durations as time.Duration or a time.ParseDuration string.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := toInt64(m["db"]); ok {
		c.DB = int(v)
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := toDuration(m["dial_timeout"]); ok && v > 0 {
		c.DialTimeout = v
	}
	if v, ok := toInt64(m["max_len_approx"]); ok && v > 0 {
		c.MaxLenApprox = v
	}
	if v, ok := toInt64(m["max_batch_bytes"]); ok && v > 0 {
		c.MaxBatchBytes = int(v)
	}
	if v, ok := toInt64(m["max_batch_messages"]); ok && v > 0 {
		c.MaxBatchMessages = int(v)
	}

	return c
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	case int:
		return time.Duration(d), true
	case int64:
		return time.Duration(d), true
	case float64:
		return time.Duration(d), true
	}
	return 0, false
}
