package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dyluth/reelforge/internal/cache"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Content-addressed artifact cache",
}

var cacheKeyCmd = &cobra.Command{
	Use:   "key [params.json]",
	Short: "Compute the cache key of a JSON parameter object (stdin if no file)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		var params map[string]any
		if err := json.Unmarshal(data, &params); err != nil {
			return printer.Error("Invalid parameters", fmt.Sprintf("expected a JSON object: %v", err), nil)
		}
		key, err := cache.ComputeKeyForMap(params)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printer.JSON(map[string]string{"cache_key": key})
		}
		printer.Info("%s\n", key)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats [project-id]",
	Short: "Show cache statistics for a project, or all projects",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		projectID := ""
		if len(args) == 1 {
			projectID = args[0]
		}
		st, err := a.cache().GetCacheStats(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printer.JSON(st)
		}
		printer.Table([]string{"Metric", "Value"}, [][]any{
			{"Artifacts", st.TotalArtifacts},
			{"Available", st.Available},
			{"Reused", st.ReusedArtifacts},
			{"Hits", st.TotalHits},
			{"Hit rate", fmt.Sprintf("%.1f%%", st.HitRate*100)},
		})
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheKeyCmd, cacheStatsCmd)
}
