package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/recallmesh/config"
)

const version = "0.1.0"

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"app":                 "app_name",
	"user":                "user_id",
	"provider":            "provider",
	"model":               "model",
	"env-file":            "env_file",
	"credential-key":      "credential_key",
	"log-level":           "log_level",
	"metrics-addr":        "metrics_addr",
	"session-backend":     "session.backend",
	"session-dsn":         "session.dsn",
	"redis-addr":          "session.addr",
	"memory-backend":      "memory.backend",
	"memory-dsn":          "memory.dsn",
	"retry-attempts":      "retry.attempts",
	"compaction-interval": "compaction.interval",
	"compaction-overlap":  "compaction.overlap",
}

var rootCmd = &cobra.Command{
	Use:   "recallmesh",
	Short: "recallmesh - sessions, memory and multi-agent pipelines",
	Long: `recallmesh runs conversations against persistent sessions, recalls facts
from earlier sessions and fans research out to parallel agents.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for
// every blocking call.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./recallmesh.yaml)")
	flags.String("app", "agents", "application name")
	flags.String("user", "default", "user id")
	flags.String("provider", "openai", "model provider (openai, anthropic)")
	flags.String("model", "", "model name (provider default when empty)")
	flags.String("env-file", ".env", "env file holding the provider API key")
	flags.String("credential-key", "", "env file key of the API key (OPENAI_API_KEY or ANTHROPIC_API_KEY by default)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.String("session-backend", "memory", "session store (memory, sqlite, redis)")
	flags.String("session-dsn", "recallmesh.db", "SQLite session database")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("memory-backend", "memory", "memory store (memory, sqlite)")
	flags.String("memory-dsn", "recallmesh-memory.db", "SQLite memory database")
	flags.Int("retry-attempts", 5, "model call attempts")
	flags.Int("compaction-interval", 0, "compact every n invocations (0 disables)")
	flags.Int("compaction-overlap", 1, "invocations repeated in the next compaction")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error

	v, err = config.NewViper(cfgFile)
	if err != nil {
		return err
	}

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	cfg, err = config.Decode(v)

	return err
}

// GetRootCmd returns the root command for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version.
func GetVersion() string {
	return version
}
