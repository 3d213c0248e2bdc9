// Package config holds all configuration types and loading logic for the
// estream harness. Config structure never shrinks — fields are only added,
// never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one estream harness instance.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Client   ClientConfig   `yaml:"client"`
	Stream   StreamConfig   `yaml:"stream"`
	KV       KVConfig       `yaml:"kv"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Workload WorkloadConfig `yaml:"workload"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// ClientConfig tunes the resilient stream client.
type ClientConfig struct {
	RetryDelayMs       int `yaml:"retry_delay_ms"`
	SlowFetchTimeoutMs int `yaml:"slow_fetch_timeout_ms"`
	// StreamCallbackWorkers stays at 1 unless create/open callbacks are
	// known independent; the other pools may grow freely.
	StreamCallbackWorkers int `yaml:"stream_callback_workers"`
	AppendCallbackWorkers int `yaml:"append_callback_workers"`
	FetchCallbackWorkers  int `yaml:"fetch_callback_workers"`
	CallbackQueueDepth    int `yaml:"callback_queue_depth"`
	// RetryRate caps retry attempts per second across all streams; zero
	// disables the cap. Burst allows short spikes above the rate.
	RetryRate  float64 `yaml:"retry_rate"`
	RetryBurst int     `yaml:"retry_burst"`
}

// RetryDelay returns the configured inter-attempt delay.
func (c ClientConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// SlowFetchTimeout returns the fast-path fetch latency budget.
func (c ClientConfig) SlowFetchTimeout() time.Duration {
	return time.Duration(c.SlowFetchTimeoutMs) * time.Millisecond
}

// StreamConfig applies uniformly to every stream the lifecycle manager owns.
type StreamConfig struct {
	ReplicaCount int   `yaml:"replica_count"`
	Epoch        int64 `yaml:"epoch"`
}

// KVConfig controls the metadata checkpoint store.
type KVConfig struct {
	// Path is the bbolt database file for segment metadata checkpoints.
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WorkloadConfig shapes the soak workload the harness drives.
type WorkloadConfig struct {
	// Streams is how many logical streams the workload writes to.
	Streams int `yaml:"streams"`
	// AppendIntervalMs is the pause between appends per stream.
	AppendIntervalMs int `yaml:"append_interval_ms"`
	// PayloadBytes is the size of each appended record payload.
	PayloadBytes int `yaml:"payload_bytes"`
	// FaultEveryN fails every Nth substrate operation, exercising the
	// retry paths. Zero runs a clean workload.
	FaultEveryN int `yaml:"fault_every_n"`
	// SlowFetchEveryN stalls every Nth fetch past the latency budget;
	// zero disables the stall.
	SlowFetchEveryN int `yaml:"slow_fetch_every_n"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
		Client: ClientConfig{
			RetryDelayMs:          3_000,
			SlowFetchTimeoutMs:    10,
			StreamCallbackWorkers: 1,
			AppendCallbackWorkers: 4,
			FetchCallbackWorkers:  4,
			CallbackQueueDepth:    1024,
			RetryRate:             0,
			RetryBurst:            1,
		},
		Stream: StreamConfig{
			ReplicaCount: 1,
			Epoch:        1,
		},
		KV: KVConfig{
			Path: "./data/segmeta.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Workload: WorkloadConfig{
			Streams:          4,
			AppendIntervalMs: 100,
			PayloadBytes:     512,
			FaultEveryN:      0,
			SlowFetchEveryN:  0,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run the harness with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	ESTREAM_LOG_LEVEL     — sets log.level
//	ESTREAM_KV_PATH       — sets kv.path
//	ESTREAM_METRICS_PORT  — sets metrics.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ESTREAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ESTREAM_KV_PATH"); v != "" {
		cfg.KV.Path = v
	}
	if v := os.Getenv("ESTREAM_METRICS_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Metrics.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	if c.Client.RetryDelayMs < 1 {
		return errors.New("client.retry_delay_ms must be at least 1")
	}
	if c.Client.SlowFetchTimeoutMs < 1 {
		return errors.New("client.slow_fetch_timeout_ms must be at least 1")
	}
	if c.Client.StreamCallbackWorkers < 1 {
		return errors.New("client.stream_callback_workers must be at least 1")
	}
	if c.Client.AppendCallbackWorkers < 1 {
		return errors.New("client.append_callback_workers must be at least 1")
	}
	if c.Client.FetchCallbackWorkers < 1 {
		return errors.New("client.fetch_callback_workers must be at least 1")
	}
	if c.Client.CallbackQueueDepth < 1 {
		return errors.New("client.callback_queue_depth must be at least 1")
	}
	if c.Client.RetryRate < 0 {
		return errors.New("client.retry_rate must be >= 0")
	}
	if c.Stream.ReplicaCount < 1 {
		return errors.New("stream.replica_count must be at least 1")
	}
	if c.Stream.Epoch < 0 {
		return errors.New("stream.epoch must be >= 0")
	}
	if c.KV.Path == "" {
		return errors.New("kv.path must not be empty")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.Workload.Streams < 1 {
		return errors.New("workload.streams must be at least 1")
	}
	if c.Workload.AppendIntervalMs < 1 {
		return errors.New("workload.append_interval_ms must be at least 1")
	}
	if c.Workload.PayloadBytes < 1 {
		return errors.New("workload.payload_bytes must be at least 1")
	}
	if c.Workload.FaultEveryN < 0 {
		return errors.New("workload.fault_every_n must be >= 0")
	}
	if c.Workload.SlowFetchEveryN < 0 {
		return errors.New("workload.slow_fetch_every_n must be >= 0")
	}
	return nil
}
