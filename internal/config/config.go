// Package config loads the worker's YAML configuration.
package config

import (
	"time"

	"github.com/mattjoyce/testworker/internal/tracing"
)

const (
	TransportStdio = "stdio"
	TransportGRPC  = "grpc"
)

// Config is the full worker configuration.
type Config struct {
	Worker  WorkerConfig   `yaml:"worker"`
	Channel ChannelConfig  `yaml:"channel"`
	Runner  RunnerConfig   `yaml:"runner"`
	Log     LogConfig      `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`
	Journal JournalConfig  `yaml:"journal"`
	Status  StatusConfig   `yaml:"status"`
}

// WorkerConfig identifies the worker. ID is normally supplied by the
// launcher and overrides whatever the file says.
type WorkerConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Isolation   string `yaml:"isolation"`
}

type ChannelConfig struct {
	Transport  string `yaml:"transport"`
	Address    string `yaml:"address"`
	SendBuffer int    `yaml:"send_buffer"`
}

// RunnerConfig is the per-class command. Command elements may use the
// {class} and {worker} placeholders.
type RunnerConfig struct {
	Command          []string      `yaml:"command"`
	Dir              string        `yaml:"dir"`
	Env              []string      `yaml:"env"`
	Timeout          time.Duration `yaml:"timeout"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JournalConfig enables the SQLite journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig enables the status HTTP server when Listen is set.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// Defaults returns a config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Worker: WorkerConfig{
			Isolation: "reuse",
		},
		Channel: ChannelConfig{
			Transport:  TransportStdio,
			SendBuffer: 1024,
		},
		Runner: RunnerConfig{
			TerminationGrace: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: tracing.Config{
			Exporter:     tracing.ExporterNone,
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "testworker",
		},
	}
}
