package commands

import (
	"os"

	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/scaffold"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter reelforge.yml",
	Long: `Write a starter reelforge.yml with the default budget, strategy and gate
settings and a small example model catalogue.

Creates:
  • reelforge.yml - Deployment configuration
  • data/         - Directory for the SQLite database

The --redis-url, --database and --namespace flags are written into the file.
Use --force to overwrite an existing reelforge.yml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing reelforge.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(initDir, 0o755); err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}
	created, err := scaffold.Initialize(initDir, scaffold.Options{
		Namespace:    viper.GetString("namespace"),
		RedisURL:     viper.GetString("redis-url"),
		DatabasePath: viper.GetString("database"),
	}, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized reelforge deployment in %s\n", initDir)
	printer.Info("\nCreated:\n")
	for _, f := range created {
		printer.Info("  ✓ %s\n", f)
	}
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Add your own models to reelforge.yml\n")
	printer.Info("  2. Create a project: reelforge project create <id> --duration 30 --tier high\n")
	printer.Info("  3. Start the chef: reelforge worker\n")
	return nil
}
