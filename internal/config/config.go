// Package config loads the invclient YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fridgeinv/dbsock"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the top-level configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig locates the server endpoint and configures the built-in server.
type ServerConfig struct {
	// Host (and port) the endpoint is served from. Ignored when URL is set.
	Host   string `yaml:"host"`
	Secure bool   `yaml:"secure,omitempty"`
	URL    string `yaml:"url,omitempty"`
	// Listen address of `invclient serve`.
	Listen string `yaml:"listen,omitempty"`
}

// ClientConfig configures connections.
type ClientConfig struct {
	// Codec is "text" or "json".
	Codec string `yaml:"codec,omitempty"`
	// Transport is "xnet" or "gorilla".
	Transport          string   `yaml:"transport,omitempty"`
	DialTimeout        Duration `yaml:"dial_timeout,omitempty"`
	RequestTimeout     Duration `yaml:"request_timeout,omitempty"`
	FailPendingOnClose bool     `yaml:"fail_pending_on_close,omitempty"`
	RootCerts          string   `yaml:"root_certs,omitempty"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// LokiConfig enables shipping logs to Grafana Loki.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// WatchConfig configures `invclient watch`.
type WatchConfig struct {
	// Filter is an expression over the pushed fields; only matching messages are printed.
	Filter string `yaml:"filter,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "localhost:8080", Listen: ":8080"},
		Client: ClientConfig{
			Codec:          "text",
			Transport:      "xnet",
			DialTimeout:    Duration{10 * time.Second},
			RequestTimeout: Duration{30 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// normalize lowercases enumerated values so that consumers can compare them exactly
func (c *Config) normalize() {
	c.Client.Codec = strings.ToLower(strings.TrimSpace(c.Client.Codec))
	c.Client.Transport = strings.ToLower(strings.TrimSpace(c.Client.Transport))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Validate checks enumerated values and required fields. Values are matched exactly;
// Load lowercases them first.
func (c *Config) Validate() error {
	switch c.Client.Codec {
	case "", "text", "json":
	default:
		return fmt.Errorf("client.codec: unknown codec %q", c.Client.Codec)
	}
	switch c.Client.Transport {
	case "", "xnet", "gorilla":
	default:
		return fmt.Errorf("client.transport: unknown transport %q", c.Client.Transport)
	}
	if c.Server.URL == "" && c.Server.Host == "" {
		return errors.New("server: host or url is required")
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		return errors.New("logging.loki.url is required when loki is enabled")
	}
	if c.Client.DialTimeout.Duration < 0 || c.Client.RequestTimeout.Duration < 0 {
		return errors.New("client: timeouts must not be negative")
	}
	return nil
}

// Endpoint returns the WebSocket URL of the server.
func (c *Config) Endpoint() string {
	if c.Server.URL != "" {
		return c.Server.URL
	}
	return dbsock.EndpointURL(c.Server.Host, c.Server.Secure)
}
