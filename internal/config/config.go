// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds busproxy configuration.
type Config struct {
	// COMMS: connect to the NATS bus at BusURL, or to the embedded one when EmbeddedBus is set.
	BusURL      string `envconfig:"BUS_URL" default:"nats://127.0.0.1:4222"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"busproxy"`

	// Connection behavior; zero durations fall back to the bus defaults.
	BusConnectTimeout       time.Duration `envconfig:"BUS_CONNECT_TIMEOUT" default:"10s"`
	BusReconnectWait        time.Duration `envconfig:"BUS_RECONNECT_WAIT" default:"2s"`
	BusMaxReconnects        int           `envconfig:"BUS_MAX_RECONNECTS" default:"60"`
	BusRetryOnFailedConnect bool          `envconfig:"BUS_RETRY_ON_FAILED_CONNECT" default:"false"`

	// Default reply timeout for proxies without their own.
	RequestTimeout time.Duration `envconfig:"BUS_REQUEST_TIMEOUT" default:"30s"`

	// Embedded NATS server
	EmbeddedBus     bool   `envconfig:"EMBEDDED_BUS" default:"false"`
	EmbeddedBusHost string `envconfig:"EMBEDDED_BUS_HOST" default:"127.0.0.1"`
	EmbeddedBusPort int    `envconfig:"EMBEDDED_BUS_PORT" default:"4222"`

	// Greeter service
	GreeterAddress string `envconfig:"GREETER_ADDRESS" default:"svc.greeter"`
	GreeterVersion string `envconfig:"GREETER_VERSION" default:"1.0.0"`

	// Proxy closed events (empty = default subject)
	ProxyEventSubject string `envconfig:"PROXY_EVENT_SUBJECT"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the greeter service.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForClient(); err != nil {
		return err
	}
	if c.GreeterVersion == "" {
		return fmt.Errorf("%s - GREETER_VERSION is required for serve", logPrefix)
	}
	if c.EmbeddedBus && (c.EmbeddedBusPort <= 0 || c.EmbeddedBusPort > 65535) {
		return fmt.Errorf("%s - EMBEDDED_BUS_PORT must be a valid port", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForClient checks required config when calling services over the bus.
func (c *Config) ValidateForClient() error {
	if c.BusURL == "" && !c.EmbeddedBus {
		return fmt.Errorf("%s - BUS_URL is required", logPrefix)
	}
	if c.GreeterAddress == "" {
		return fmt.Errorf("%s - GREETER_ADDRESS is required", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - BUS_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.BusConnectTimeout < 0 || c.BusReconnectWait < 0 {
		return fmt.Errorf("%s - BUS_CONNECT_TIMEOUT and BUS_RECONNECT_WAIT must not be negative", logPrefix)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
