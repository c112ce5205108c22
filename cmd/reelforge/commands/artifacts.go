package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/reelforge/internal/catalog"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/resolver"
	"github.com/dyluth/reelforge/internal/timespec"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/spf13/cobra"
)

var artifactsCmd = &cobra.Command{
	Use:     "artifacts",
	Aliases: []string{"artifact"},
	Short:   "Browse generated artifacts",
}

var (
	artifactsOutput string
	artifactsType   string
	artifactsStatus string
	artifactsSince  string
	artifactsUntil  string
)

var artifactsListCmd = &cobra.Command{
	Use:   "list [project-id]",
	Short: "List artifacts, oldest first",
	Long: `List generated artifacts of one project, or of every project.

Examples:
  # Table of one project's artifacts
  reelforge artifacts list film-1

  # Available video artifacts from the last day as JSONL
  reelforge artifacts list --type video --status AVAILABLE --since 24h -o jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := catalog.OutputFormat(artifactsOutput)
		if format != catalog.OutputFormatDefault && format != catalog.OutputFormatJSONL {
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", artifactsOutput),
				[]string{"Valid formats: default, jsonl"},
			)
		}
		r, err := timespec.ParseRange(artifactsSince, artifactsUntil, time.Now())
		if err != nil {
			return printer.Error("invalid time range", err.Error(), []string{"Use a duration like 1h30m or an RFC3339 timestamp"})
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		projectID := ""
		if len(args) == 1 {
			projectID = args[0]
		}
		filters := &catalog.FilterCriteria{
			Range:    r,
			TypeGlob: artifactsType,
			Status:   blackboard.ArtifactStatus(strings.ToUpper(artifactsStatus)),
		}
		return catalog.ListArtifacts(cmd.Context(), a.store, projectID, format, filters, printer.Out)
	},
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show <artifact-id>",
	Short: "Show one artifact as JSON (unique ID prefixes accepted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := resolver.ResolveArtifactID(cmd.Context(), a.store, args[0])
		if err != nil {
			return shortIDError(err)
		}
		err = catalog.GetArtifact(cmd.Context(), a.store, id, printer.Out)
		if catalog.IsNotFound(err) {
			return printer.Error(fmt.Sprintf("Artifact '%s' not found", id), "", nil)
		}
		return err
	},
}

// shortIDError renders resolver failures for the terminal.
func shortIDError(err error) error {
	var amb *resolver.AmbiguousError
	switch {
	case errors.As(err, &amb):
		return printer.Error("Ambiguous ID", resolver.FormatAmbiguousError(amb), nil)
	case resolver.IsNotFoundError(err):
		return printer.Error("Not found", err.Error(), nil)
	default:
		return printer.Error("Invalid ID", err.Error(), nil)
	}
}

func init() {
	artifactsListCmd.Flags().StringVarP(&artifactsOutput, "output", "o", "default", "Output format (default or jsonl)")
	artifactsListCmd.Flags().StringVar(&artifactsType, "type", "", "glob on artifact type, e.g. 'vid*'")
	artifactsListCmd.Flags().StringVar(&artifactsStatus, "status", "", "UPLOADING, PROCESSING, AVAILABLE, EXPIRED or DELETED")
	artifactsListCmd.Flags().StringVar(&artifactsSince, "since", "", "created at or after (duration ago or RFC3339)")
	artifactsListCmd.Flags().StringVar(&artifactsUntil, "until", "", "created before (duration ago or RFC3339)")

	artifactsCmd.AddCommand(artifactsListCmd, artifactsShowCmd)
}
