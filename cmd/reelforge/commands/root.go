package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "reelforge",
	Short: "reelforge - coordination core for a multi-agent video pipeline",
	Long: `reelforge coordinates the agents of a script-to-video pipeline.

Agents share versioned project state on a Redis-cached blackboard backed by
SQLite, reuse generated assets through a content-addressed cache, and spend
against a per-project budget that degrades quality before it overruns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	// Errors are printed by the printer package; cobra stays quiet.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	cobra.OnInitialize(initViper)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to reelforge.yml (default ./reelforge.yml if present)")
	flags.String("redis-url", "", "Redis URL (overrides redis.url)")
	flags.String("database", "", "SQLite path (overrides database.path)")
	flags.String("namespace", "", "key namespace (overrides namespace)")
	flags.String("log-level", "", "log level (overrides log.level)")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "redis-url", "database", "namespace", "log-level", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(workerCmd, projectCmd, budgetCmd, modelsCmd, cacheCmd, gateCmd, dnaCmd, watchCmd, artifactsCmd, initCmd)
}

func initViper() {
	viper.SetEnvPrefix("REELFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
