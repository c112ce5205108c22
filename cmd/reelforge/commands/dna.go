package commands

import (
	"fmt"

	"github.com/dyluth/reelforge/internal/dna"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dnaCmd = &cobra.Command{
	Use:   "dna",
	Short: "Series asset DNA: shot reuse and locking",
}

var (
	findLocation   string
	findTimeOfDay  string
	findShotType   string
	findCharacters []string
	findMin        float64
)

var dnaFindShotCmd = &cobra.Command{
	Use:   "find-shot <series-id>",
	Short: "Find a locked shot in the series that can be reused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mgr := a.dna()
		threshold := findMin
		if !cmd.Flags().Changed("min-similarity") {
			threshold = mgr.MinSimilarity()
		}
		m, ok, err := mgr.FindReusableShot(cmd.Context(), args[0], dna.ShotQuery{
			Location:   findLocation,
			TimeOfDay:  findTimeOfDay,
			ShotType:   findShotType,
			Characters: findCharacters,
		}, threshold)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printer.JSON(map[string]any{"found": ok, "match": m})
		}
		if !ok {
			printer.Info("No reusable shot in series %s\n", args[0])
			return nil
		}
		printer.Success("Reuse shot %s (score %.3f, artifact %s)\n", m.DNA.ShotID, m.Score, m.DNA.ArtifactID)
		return nil
	},
}

var dnaLockCmd = &cobra.Command{
	Use:   "lock <character|scene|shot> <series-id> <id>",
	Short: "Lock DNA so it becomes canonical for the series",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		m := a.dna()
		kind, series, id := args[0], args[1], args[2]
		switch kind {
		case "character":
			err = m.LockCharacterDNA(cmd.Context(), series, id)
		case "scene":
			err = m.LockSceneDNA(cmd.Context(), series, id)
		case "shot":
			err = m.LockShotDNA(cmd.Context(), series, id)
		default:
			return printer.Error(fmt.Sprintf("Unknown DNA kind '%s'", kind), "Kind must be character, scene or shot.", nil)
		}
		if err != nil {
			return err
		}
		printer.Success("Locked %s %s in series %s\n", kind, id, series)
		return nil
	},
}

func init() {
	dnaFindShotCmd.Flags().StringVar(&findLocation, "location", "", "shot location")
	dnaFindShotCmd.Flags().StringVar(&findTimeOfDay, "time-of-day", "", "time of day")
	dnaFindShotCmd.Flags().StringVar(&findShotType, "shot-type", "", "shot type (e.g. close-up)")
	dnaFindShotCmd.Flags().StringSliceVar(&findCharacters, "characters", nil, "character IDs in the shot")
	dnaFindShotCmd.Flags().Float64Var(&findMin, "min-similarity", 0, "minimum score (default dna.min_similarity)")

	dnaCmd.AddCommand(dnaFindShotCmd, dnaLockCmd)
}
