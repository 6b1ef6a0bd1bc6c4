// Package config loads the refetch configuration file.
//
// Example config.yml:
//
//	target:
//	  host: gameprogrammingpatterns.com
//	  port: 80
//	  path: /contents.html
//	buffer:
//	  capacity: 100
//	  overflow: drop_newest
//	fetch:
//	  chunkSize: 128
//	  maxMessageSize: 1MB
//	  connectTimeout: 10s
//	  ioTimeout: 30s
//	  retryInterval: 0s
//	  cycleRate: 0
//	metrics:
//	  address: 127.0.0.1:9137
//	log:
//	  level: info
//	  format: text
package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Zereker/refetch"
)

// Config is the root of the configuration file.
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// TargetConfig defines the resource fetched every cycle.
type TargetConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// BufferConfig defines the handoff buffer.
type BufferConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

// FetchConfig defines the fetch loop.
type FetchConfig struct {
	ChunkSize      int               `yaml:"chunkSize"`
	MaxMessageSize datasize.ByteSize `yaml:"maxMessageSize"`
	ConnectTimeout time.Duration     `yaml:"connectTimeout"`
	IOTimeout      time.Duration     `yaml:"ioTimeout"`
	RetryInterval  time.Duration     `yaml:"retryInterval"`
	CycleRate      float64           `yaml:"cycleRate"` // cycles per second, 0 = unlimited
	MaxCycles      int               `yaml:"maxCycles"` // 0 = forever
}

// MetricsConfig defines the Prometheus endpoint. Empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LogConfig defines logging output on stderr.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Target: TargetConfig{
			Host: "gameprogrammingpatterns.com",
			Port: refetch.DefaultPort,
			Path: "/contents.html",
		},
		Buffer: BufferConfig{
			Capacity: 100,
			Overflow: refetch.DropNewest.String(),
		},
		Fetch: FetchConfig{
			ChunkSize:      128,
			MaxMessageSize: datasize.MB,
			ConnectTimeout: 10 * time.Second,
			IOTimeout:      30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer file.Close()

	if err := Decode(file, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Decode unmarshals YAML from reader into cfg, rejecting unknown fields.
func Decode(reader io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Target.Host) == "" {
		return errors.New(".target.host is unspecified")
	}
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		return errors.Errorf(".target.port: %d is out of range", c.Target.Port)
	}
	if c.Target.Path != "" && !strings.HasPrefix(c.Target.Path, "/") {
		return errors.Errorf(".target.path: %q must start with /", c.Target.Path)
	}
	if c.Buffer.Capacity < 1 {
		return errors.New(".buffer.capacity must be at least 1")
	}
	if _, err := refetch.ParseOverflowPolicy(c.Buffer.Overflow); err != nil {
		return errors.Wrap(err, ".buffer.overflow")
	}
	if c.Fetch.ChunkSize < 1 {
		return errors.New(".fetch.chunkSize must be at least 1")
	}
	if c.Fetch.MaxMessageSize < datasize.ByteSize(c.Fetch.ChunkSize) {
		return errors.Errorf(".fetch.maxMessageSize: %s is smaller than chunkSize", c.Fetch.MaxMessageSize.HR())
	}
	if c.Fetch.ConnectTimeout <= 0 || c.Fetch.IOTimeout <= 0 {
		return errors.New(".fetch timeouts must be positive")
	}
	if c.Fetch.RetryInterval < 0 || c.Fetch.CycleRate < 0 || c.Fetch.MaxCycles < 0 {
		return errors.New(".fetch.retryInterval, cycleRate and maxCycles cannot be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return errors.Wrap(err, ".log.level")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf(".log.format: %q is not text or json", c.Log.Format)
	}
	return nil
}

// TargetValue returns the fetch target.
func (c Config) TargetValue() refetch.Target {
	return refetch.Target{Host: c.Target.Host, Port: c.Target.Port, Path: c.Target.Path}
}

// OverflowPolicy returns the parsed overflow policy.
func (c Config) OverflowPolicy() refetch.OverflowPolicy {
	policy, _ := refetch.ParseOverflowPolicy(c.Buffer.Overflow)
	return policy
}

// FetchOptions converts the fetch section into fetcher options.
func (c Config) FetchOptions() []refetch.Option {
	return []refetch.Option{
		refetch.ChunkSizeOption(c.Fetch.ChunkSize),
		refetch.MessageMaxSize(int(c.Fetch.MaxMessageSize.Bytes())),
		refetch.ConnectTimeoutOption(c.Fetch.ConnectTimeout),
		refetch.IOTimeoutOption(c.Fetch.IOTimeout),
		refetch.RetryIntervalOption(c.Fetch.RetryInterval),
		refetch.CycleRateOption(c.Fetch.CycleRate),
		refetch.MaxCyclesOption(c.Fetch.MaxCycles),
	}
}

// SlogLevel parses the level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, err
	}
	return level, nil
}
