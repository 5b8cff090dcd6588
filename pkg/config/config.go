package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all tokentap configuration.
type Config struct {
	Listen      string         `yaml:"listen"`
	UpstreamURL string         `yaml:"upstream_url"`
	DBPath      string         `yaml:"db_path"`
	Upstream    UpstreamConfig `yaml:"upstream"`
	Recorder    RecorderConfig `yaml:"recorder"`
	Log         LogConfig      `yaml:"log"`
}

// UpstreamConfig tunes the connection to the language-model server.
type UpstreamConfig struct {
	// Timeout bounds connection establishment and response headers.
	// Body reads are not bounded by it, streams may run long.
	Timeout time.Duration `yaml:"timeout"`
	// StreamBufferFrames is how many SSE frames the usage extractor may
	// lag behind the client relay before extraction is abandoned.
	StreamBufferFrames int `yaml:"stream_buffer_frames"`
}

// RecorderConfig tunes the asynchronous persistence queue.
type RecorderConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		UpstreamURL: "http://localhost:1234",
		DBPath:      "tokentap.db",
		Upstream: UpstreamConfig{
			Timeout:            30 * time.Second,
			StreamBufferFrames: 256,
		},
		Recorder: RecorderConfig{
			QueueSize: 512,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file with
// environment variables expanded, and TOKENTAP_* environment overrides.
// A .env file in the working directory is honored for development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Running without a config file is fine, env vars cover it.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)

	if cfg.Upstream.StreamBufferFrames <= 0 {
		cfg.Upstream.StreamBufferFrames = Default().Upstream.StreamBufferFrames
	}
	if cfg.Recorder.QueueSize <= 0 {
		cfg.Recorder.QueueSize = Default().Recorder.QueueSize
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TOKENTAP_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TOKENTAP_UPSTREAM_URL"); v != "" {
		cfg.UpstreamURL = v
	}
	if v := os.Getenv("TOKENTAP_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
}
