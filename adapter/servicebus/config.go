package servicebus

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxBatchBytes is the standard tier message limit.
const DefaultMaxBatchBytes = 256 * 1024

var ErrInvalidConnectionString = errors.New("servicebus: invalid connection string")

// ConnectionString is a parsed namespace connection string.
type ConnectionString struct {
	Host       string // "<ns>.servicebus.windows.net" or "localhost:5672"
	KeyName    string
	Key        string
	EntityPath string
	Emulator   bool
}

// ParseConnectionString parses "Endpoint=sb://...;SharedAccessKeyName=...;SharedAccessKey=...".
// Keys are case-insensitive; values may contain '='.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	var endpoint string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return cs, fmt.Errorf("%w: segment %q has no value", ErrInvalidConnectionString, part)
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "endpoint":
			endpoint = v
		case "sharedaccesskeyname":
			cs.KeyName = v
		case "sharedaccesskey":
			cs.Key = v
		case "entitypath":
			cs.EntityPath = v
		case "usedevelopmentemulator":
			cs.Emulator = strings.EqualFold(v, "true")
		}
	}
	if endpoint == "" {
		return cs, fmt.Errorf("%w: Endpoint missing", ErrInvalidConnectionString)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return cs, fmt.Errorf("%w: bad Endpoint %q", ErrInvalidConnectionString, endpoint)
	}
	cs.Host = u.Host
	if cs.KeyName == "" || cs.Key == "" {
		return cs, fmt.Errorf("%w: SharedAccessKeyName and SharedAccessKey required", ErrInvalidConnectionString)
	}
	return cs, nil
}

// Address is the AMQP URL to dial.
func (cs ConnectionString) Address() string {
	if cs.Emulator {
		return "amqp://" + cs.Host
	}
	return "amqps://" + cs.Host
}

// Config for the Service Bus transport.
type Config struct {
	ConnectionString string
	DialTimeout      time.Duration
	MaxBatchBytes    int
	MaxBatchMessages int
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		DialTimeout:   30 * time.Second,
		MaxBatchBytes: DefaultMaxBatchBytes,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if _, err := ParseConnectionString(c.ConnectionString); err != nil {
		return err
	}
	if c.MaxBatchBytes < 0 || c.MaxBatchMessages < 0 {
		return fmt.Errorf("config: batch bounds must be >= 0")
	}
	return nil
}

// ToMap converts Config to the generic map for the transport factory.
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"connection_string":  c.ConnectionString,
		"dial_timeout":       c.DialTimeout,
		"max_batch_bytes":    c.MaxBatchBytes,
		"max_batch_messages": c.MaxBatchMessages,
	}
}

// ConfigFromMap converts a generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	if v, ok := m["connection_string"].(string); ok {
		c.ConnectionString = v
	}
	switch v := m["dial_timeout"].(type) {
	case time.Duration:
		if v > 0 {
			c.DialTimeout = v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.DialTimeout = d
		}
	}
	num := func(k string, dst *int) {
		switch v := m[k].(type) {
		case int:
			*dst = v
		case int64:
			*dst = int(v)
		case float64:
			*dst = int(v)
		}
	}
	num("max_batch_bytes", &c.MaxBatchBytes)
	num("max_batch_messages", &c.MaxBatchMessages)
	return c
}
