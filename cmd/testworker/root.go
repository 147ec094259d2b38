package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mattjoyce/testworker/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "testworker",
		Short:        "Run test classes on behalf of a build tool host",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to configuration file (env TESTWORKER_CONFIG)")

	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "testworker version %s\n", version)
		},
	}
}

// launchBindings maps the launch contract onto config keys. Flags win over
// the environment, which wins over the file.
var launchBindings = []struct {
	key  string
	flag string
	env  string
}{
	{"config", "config", "TESTWORKER_CONFIG"},
	{"worker.id", "worker-id", "TESTWORKER_ID"},
	{"channel.transport", "transport", "TESTWORKER_TRANSPORT"},
	{"channel.address", "address", "TESTWORKER_ADDRESS"},
}

// loadConfig resolves the config file and the launch overrides from flags.
// It returns the validated config and the file's fingerprint.
func loadConfig(flags *pflag.FlagSet) (*config.Config, string, error) {
	v := viper.New()
	for _, b := range launchBindings {
		if f := flags.Lookup(b.flag); f != nil {
			if err := v.BindPFlag(b.key, f); err != nil {
				return nil, "", fmt.Errorf("bind --%s: %w", b.flag, err)
			}
		}
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, "", fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	path := v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if id := v.GetString("worker.id"); id != "" {
		cfg.Worker.ID = id
	}
	if t := v.GetString("channel.transport"); t != "" {
		cfg.Channel.Transport = t
	}
	if a := v.GetString("channel.address"); a != "" {
		cfg.Channel.Address = a
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	hash, err := config.Fingerprint(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}
