package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration loaded from YAML.
type Config struct {
	Device struct {
		Name         string   `yaml:"name"`
		Capabilities []string `yaml:"capabilities"`
		MaxChannels  int      `yaml:"max_channels"`
	} `yaml:"device"`

	Network struct {
		BindAddress    string        `yaml:"bind_address"`
		BroadcastAddr  string        `yaml:"broadcast_address"`
		MaxPacketBytes int           `yaml:"max_packet_bytes"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
	} `yaml:"network"`

	Discovery struct {
		RepliesPerSecond float64 `yaml:"replies_per_second"`
		ReplyBurst       int     `yaml:"reply_burst"`
	} `yaml:"discovery"`

	Session struct {
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		IdleTimeout      time.Duration `yaml:"idle_timeout"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
	} `yaml:"session"`

	Control struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		StatusAddress     string `yaml:"status_address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Device.Name = "alpine-device"
	cfg.Device.MaxChannels = 512
	cfg.Device.Capabilities = []string{"signing", "interpolable"}
	cfg.Network.BindAddress = ":7430"
	cfg.Network.BroadcastAddr = "255.255.255.255:7430"
	cfg.Network.MaxPacketBytes = 2048
	cfg.Network.ReadTimeout = 3 * time.Second
	cfg.Discovery.RepliesPerSecond = 20
	cfg.Discovery.ReplyBurst = 5
	cfg.Session.HandshakeTimeout = 3 * time.Second
	cfg.Session.IdleTimeout = 60 * time.Second
	cfg.Session.SweepInterval = 10 * time.Second
	cfg.Control.MaxAttempts = 5
	cfg.Control.InitialDelay = 200 * time.Millisecond
	cfg.Control.MaxDelay = 2 * time.Second
	cfg.Monitoring.StatusAddress = ":9430"
	cfg.Tracing.SampleRate = 1.0
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}
	if c.Device.MaxChannels <= 0 {
		return fmt.Errorf("device.max_channels must be > 0")
	}
	if c.Network.BindAddress == "" {
		return fmt.Errorf("network.bind_address must not be empty")
	}
	if c.Network.MaxPacketBytes < 512 {
		return fmt.Errorf("network.max_packet_bytes must be >= 512")
	}
	if c.Network.ReadTimeout <= 0 {
		return fmt.Errorf("network.read_timeout must be > 0")
	}
	if c.Discovery.RepliesPerSecond <= 0 {
		return fmt.Errorf("discovery.replies_per_second must be > 0")
	}
	if c.Discovery.ReplyBurst <= 0 {
		return fmt.Errorf("discovery.reply_burst must be > 0")
	}
	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session.handshake_timeout must be > 0")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be > 0")
	}
	if c.Control.MaxAttempts <= 0 {
		return fmt.Errorf("control.max_attempts must be > 0")
	}
	if c.Control.InitialDelay <= 0 {
		return fmt.Errorf("control.initial_delay must be > 0")
	}
	if c.Control.MaxDelay < c.Control.InitialDelay {
		return fmt.Errorf("control.max_delay must be >= control.initial_delay")
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.StatusAddress == "" {
		return fmt.Errorf("monitoring.status_address must not be empty when prometheus_enabled=true")
	}
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	return nil
}
