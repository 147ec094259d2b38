package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/testworker/internal/isolate"
	"github.com/mattjoyce/testworker/internal/tracing"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path over Defaults and validates the result. An empty path
// yields the defaults, which still need a worker id and runner command
// before they validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands ${VAR} references in data and decodes it over cfg.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty document
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by Validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Validate checks a fully assembled config, after launcher overrides.
func (c *Config) Validate() error {
	if c.Worker.ID == "" {
		return fmt.Errorf("worker.id is required (set --worker-id or TESTWORKER_ID)")
	}
	if _, err := isolate.ParseMode(c.Worker.Isolation); err != nil {
		return fmt.Errorf("worker.isolation: %w", err)
	}

	switch c.Channel.Transport {
	case TransportStdio:
	case TransportGRPC:
		if c.Channel.Address == "" {
			return fmt.Errorf("channel.address is required for grpc transport")
		}
	default:
		return fmt.Errorf("channel.transport must be one of: stdio, grpc (got %q)", c.Channel.Transport)
	}
	if c.Channel.SendBuffer < 0 {
		return fmt.Errorf("channel.send_buffer must not be negative")
	}

	if len(c.Runner.Command) == 0 || c.Runner.Command[0] == "" {
		return fmt.Errorf("runner.command is required")
	}
	if c.Runner.Timeout < 0 {
		return fmt.Errorf("runner.timeout must not be negative")
	}
	if c.Runner.TerminationGrace < 0 {
		return fmt.Errorf("runner.termination_grace must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case tracing.ExporterNone, tracing.ExporterStderr, tracing.ExporterOTLP:
		case tracing.ExporterFile:
			if c.Tracing.FilePath == "" {
				return fmt.Errorf("tracing.file_path is required for file exporter")
			}
		default:
			return fmt.Errorf("tracing.exporter must be one of: none, stderr, file, otlp (got %q)", c.Tracing.Exporter)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}

	return checkUnresolved(c)
}

func checkUnresolved(c *Config) error {
	fields := map[string]string{
		"worker.id":           c.Worker.ID,
		"worker.display_name": c.Worker.DisplayName,
		"channel.address":     c.Channel.Address,
		"runner.dir":          c.Runner.Dir,
		"journal.path":        c.Journal.Path,
		"status.listen":       c.Status.Listen,
		"tracing.file_path":   c.Tracing.FilePath,
	}
	for i, arg := range c.Runner.Command {
		fields[fmt.Sprintf("runner.command[%d]", i)] = arg
	}
	for i, kv := range c.Runner.Env {
		fields[fmt.Sprintf("runner.env[%d]", i)] = kv
	}
	for key, value := range fields {
		if m := envVarPattern.FindStringSubmatch(value); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", key, m[1])
		}
	}
	return nil
}
