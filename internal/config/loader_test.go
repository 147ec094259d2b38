package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testworker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "full config",
			yaml: `
worker:
  id: w-1
  isolation: fresh
channel:
  transport: grpc
  address: localhost:7070
  send_buffer: 64
runner:
  command: ["./run-class.sh", "{class}", "--worker={worker}"]
  dir: /tmp
  env: ["MODE=ci"]
  timeout: 90s
  termination_grace: 2s
log:
  level: debug
  format: text
tracing:
  enabled: true
  exporter: file
  file_path: /tmp/traces.jsonl
journal:
  path: /tmp/journal.db
status:
  listen: 127.0.0.1:0
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "w-1", cfg.Worker.ID)
				assert.Equal(t, "fresh", cfg.Worker.Isolation)
				assert.Equal(t, TransportGRPC, cfg.Channel.Transport)
				assert.Equal(t, 64, cfg.Channel.SendBuffer)
				assert.Equal(t, []string{"./run-class.sh", "{class}", "--worker={worker}"}, cfg.Runner.Command)
				assert.Equal(t, 90*time.Second, cfg.Runner.Timeout)
				assert.Equal(t, 2*time.Second, cfg.Runner.TerminationGrace)
				assert.Equal(t, "text", cfg.Log.Format)
				assert.True(t, cfg.Tracing.Enabled)
				assert.Equal(t, "/tmp/journal.db", cfg.Journal.Path)
				assert.Equal(t, "127.0.0.1:0", cfg.Status.Listen)
			},
		},
		{
			name: "defaults fill gaps",
			yaml: `
runner:
  command: ["true"]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "reuse", cfg.Worker.Isolation)
				assert.Equal(t, TransportStdio, cfg.Channel.Transport)
				assert.Equal(t, 1024, cfg.Channel.SendBuffer)
				assert.Equal(t, 5*time.Second, cfg.Runner.TerminationGrace)
				assert.Equal(t, "info", cfg.Log.Level)
				assert.Equal(t, "testworker", cfg.Tracing.ServiceName)
				assert.False(t, cfg.Tracing.Enabled)
			},
		},
		{
			name: "env interpolation",
			yaml: `
worker:
  id: ${TW_TEST_ID}
runner:
  command: ["${TW_TEST_BIN}", "{class}"]
`,
			env: map[string]string{"TW_TEST_ID": "w-env", "TW_TEST_BIN": "/usr/bin/runner"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "w-env", cfg.Worker.ID)
				assert.Equal(t, "/usr/bin/runner", cfg.Runner.Command[0])
			},
		},
		{
			name:    "unknown key",
			yaml:    "worker:\n  name: nope\n",
			wantErr: "field name not found",
		},
		{
			name:    "malformed yaml",
			yaml:    "worker: [\n",
			wantErr: "failed to parse YAML",
		},
		{
			name: "empty document",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Defaults(), cfg)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadNoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Worker.ID = "w-1"
	cfg.Runner.Command = []string{"./run", "{class}"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing worker id", func(c *Config) { c.Worker.ID = "" }, "worker.id is required"},
		{"bad isolation", func(c *Config) { c.Worker.Isolation = "shared" }, "worker.isolation"},
		{"bad transport", func(c *Config) { c.Channel.Transport = "tcp" }, "channel.transport"},
		{"grpc without address", func(c *Config) { c.Channel.Transport = TransportGRPC }, "channel.address is required"},
		{"negative send buffer", func(c *Config) { c.Channel.SendBuffer = -1 }, "send_buffer"},
		{"missing command", func(c *Config) { c.Runner.Command = nil }, "runner.command is required"},
		{"negative timeout", func(c *Config) { c.Runner.Timeout = -time.Second }, "runner.timeout"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"file exporter without path", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "file"
		}, "tracing.file_path"},
		{"unknown exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "stdout"
		}, "tracing.exporter"},
		{"sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}, "sample_rate"},
		{"disabled tracing is not checked", func(c *Config) { c.Tracing.Exporter = "bogus" }, ""},
		{"unresolved variable", func(c *Config) { c.Runner.Env = []string{"TOKEN=${TW_UNSET_TOKEN}"} }, "${TW_UNSET_TOKEN} is not set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
