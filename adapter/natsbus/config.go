package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultMaxBatchBytes = 1024 * 1024

// Config for the NATS transport.
type Config struct {
	URL           string
	Name          string
	User          string
	Password      string
	Token         string
	Timeout       time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
	FlushTimeout  time.Duration

	MaxBatchBytes    int
	MaxBatchMessages int
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		URL:           nats.DefaultURL,
		Timeout:       2 * time.Second,
		MaxReconnects: nats.DefaultMaxReconnect,
		ReconnectWait: nats.DefaultReconnectWait,
		FlushTimeout:  5 * time.Second,
		MaxBatchBytes: DefaultMaxBatchBytes,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.Token != "" && c.User != "" {
		return fmt.Errorf("config: token and user are mutually exclusive")
	}
	if c.MaxBatchBytes < 0 || c.MaxBatchMessages < 0 {
		return fmt.Errorf("config: batch bounds must be >= 0")
	}
	return nil
}

// options builds the nats.Connect option list.
func (c Config) options() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.Timeout),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	return opts
}

// ToMap converts Config to the generic map for the transport factory.
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"url":                c.URL,
		"name":               c.Name,
		"user":               c.User,
		"password":           c.Password,
		"token":              c.Token,
		"timeout":            c.Timeout,
		"max_reconnects":     c.MaxReconnects,
		"reconnect_wait":     c.ReconnectWait,
		"flush_timeout":      c.FlushTimeout,
		"max_batch_bytes":    c.MaxBatchBytes,
		"max_batch_messages": c.MaxBatchMessages,
	}
}

// ConfigFromMap converts a generic map to Config, keeping defaults for
// missing or mistyped keys.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	str := func(k string, dst *string) {
		if v, ok := m[k].(string); ok && v != "" {
			*dst = v
		}
	}
	dur := func(k string, dst *time.Duration) {
		switch v := m[k].(type) {
		case time.Duration:
			if v > 0 {
				*dst = v
			}
		case string:
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
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

	str("url", &c.URL)
	str("name", &c.Name)
	str("user", &c.User)
	str("password", &c.Password)
	str("token", &c.Token)
	dur("timeout", &c.Timeout)
	num("max_reconnects", &c.MaxReconnects)
	dur("reconnect_wait", &c.ReconnectWait)
	dur("flush_timeout", &c.FlushTimeout)
	num("max_batch_bytes", &c.MaxBatchBytes)
	num("max_batch_messages", &c.MaxBatchMessages)

	return c
}
