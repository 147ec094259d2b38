package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testworker/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "testworker version dev\n", out.String())
}

func TestRunRequiresWorkerID(t *testing.T) {
	t.Setenv("TESTWORKER_ID", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.id is required")
}

func launchFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("worker-id", "", "")
	fs.String("transport", "", "")
	fs.String("address", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testworker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  id: from-file
runner:
  command: ["true"]
`), 0o600))

	t.Run("file", func(t *testing.T) {
		t.Setenv("TESTWORKER_ID", "")
		cfg, hash, err := loadConfig(launchFlags(t, "--config", path))
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Worker.ID)
		assert.Len(t, hash, 64)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("TESTWORKER_ID", "from-env")
		cfg, _, err := loadConfig(launchFlags(t, "--config", path))
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Worker.ID)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("TESTWORKER_ID", "from-env")
		cfg, _, err := loadConfig(launchFlags(t, "--config", path, "--worker-id", "from-flag"))
		require.NoError(t, err)
		assert.Equal(t, "from-flag", cfg.Worker.ID)
	})

	t.Run("config path from env", func(t *testing.T) {
		t.Setenv("TESTWORKER_CONFIG", path)
		t.Setenv("TESTWORKER_ID", "")
		cfg, _, err := loadConfig(launchFlags(t))
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Worker.ID)
	})

	t.Run("transport overrides", func(t *testing.T) {
		t.Setenv("TESTWORKER_ID", "")
		cfg, _, err := loadConfig(launchFlags(t, "--config", path, "--transport", "grpc", "--address", "localhost:7070"))
		require.NoError(t, err)
		assert.Equal(t, "grpc", cfg.Channel.Transport)
		assert.Equal(t, "localhost:7070", cfg.Channel.Address)
	})

	t.Run("grpc needs address", func(t *testing.T) {
		t.Setenv("TESTWORKER_ID", "")
		t.Setenv("TESTWORKER_ADDRESS", "")
		_, _, err := loadConfig(launchFlags(t, "--config", path, "--transport", "grpc"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "channel.address")
	})
}
