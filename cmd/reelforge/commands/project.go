package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/timespec"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create and inspect projects on the blackboard",
}

var (
	createDuration float64
	createTier     string
	createAspect   string
	createStyle    string
	createSeries   string

	showAudit bool
	showSince string
	showUntil string

	costAmount      float64
	costCurrency    string
	costDescription string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create <project-id>",
	Short: "Create a project with a budget allocated from its duration and tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		tier := blackboard.QualityTier(createTier)
		budget, err := a.budgetManager().AllocateBudget(createDuration, tier)
		if err != nil {
			return printer.Error("Cannot allocate budget", err.Error(), []string{"Use --tier high, balanced or fast"})
		}
		p, err := a.board.CreateProject(cmd.Context(), args[0], blackboard.GlobalSpec{
			QualityTier:     tier,
			AspectRatio:     createAspect,
			DurationSeconds: createDuration,
			Style:           createStyle,
			SeriesID:        createSeries,
		}, budget)
		if errors.Is(err, blackboard.ErrProjectExists) {
			return printer.Error(fmt.Sprintf("Project '%s' already exists", args[0]), "Project IDs are unique per deployment.",
				[]string{fmt.Sprintf("Inspect it with: reelforge project show %s", args[0])})
		}
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printer.JSON(p)
		}
		printer.Success("Created project %s (budget %s, tier %s)\n", p.ProjectID, p.Budget.Total, tier)
		return nil
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show a project's state and budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := timespec.ParseRange(showSince, showUntil, time.Now())
		if err != nil {
			return printer.Error("invalid time range", err.Error(), []string{"Use a duration like 1h30m or an RFC3339 timestamp"})
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.board.GetProject(cmd.Context(), args[0])
		if blackboard.IsNotFound(err) {
			return printer.Error(fmt.Sprintf("Project '%s' not found", args[0]), "No project with this ID exists in the store.", nil)
		}
		if err != nil {
			return err
		}

		var audit []blackboard.AuditEntry
		if showAudit {
			entries, err := a.board.AuditLog(cmd.Context(), p.ProjectID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if r.Contains(e.Timestamp) {
					audit = append(audit, e)
				}
			}
		}
		if viper.GetBool("json") {
			return printer.JSON(struct {
				*blackboard.Project
				Audit []blackboard.AuditEntry `json:"audit,omitempty"`
			}{p, audit})
		}

		status := a.budgetManager().CheckBudgetStatus(p.Budget)
		printer.Table([]string{"Field", "Value"}, [][]any{
			{"Project", p.ProjectID},
			{"Version", p.Version},
			{"Status", printer.Status(string(p.Status))},
			{"Quality tier", p.GlobalSpec.QualityTier},
			{"Series", p.GlobalSpec.SeriesID},
			{"Budget total", p.Budget.Total},
			{"Spent", p.Budget.Spent},
			{"Remaining", p.Budget.EstimatedRemaining},
			{"Budget status", printer.Status(string(status))},
			{"Episodes", len(p.Episodes)},
			{"Updated", p.UpdatedAt.Format("2006-01-02 15:04:05")},
		})
		if showAudit {
			rows := make([][]any, 0, len(audit))
			for _, e := range audit {
				rows = append(rows, []any{e.Version, e.Timestamp.Format("2006-01-02 15:04:05"), e.ChangeDescription})
			}
			printer.Table([]string{"Version", "Time", "Change"}, rows)
		}
		return nil
	},
}

var projectAddCostCmd = &cobra.Command{
	Use:   "add-cost <project-id>",
	Short: "Record spend against a project's budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		currency := costCurrency
		if currency == "" {
			currency = a.cfg.Budget.Currency
		}
		p, err := a.board.AddCost(cmd.Context(), args[0], blackboard.NewMoney(costAmount, currency), costDescription)
		switch {
		case blackboard.IsNotFound(err):
			return printer.Error(fmt.Sprintf("Project '%s' not found", args[0]), "No project with this ID exists in the store.", nil)
		case blackboard.IsRetryable(err):
			return printer.Error("Project is busy", err.Error(), []string{"Retry in a moment"})
		case err != nil:
			return err
		}

		decision := chef.NewStrategyAdjuster(a.cfg.Strategy).EvaluateStrategy(p.Budget, p.GlobalSpec.QualityTier)
		if viper.GetBool("json") {
			return printer.JSON(struct {
				Project  *blackboard.Project `json:"project"`
				Decision chef.Decision       `json:"decision"`
			}{p, decision})
		}
		printer.Success("Spent %s of %s (version %d)\n", p.Budget.Spent, p.Budget.Total, p.Version)
		if decision.Action == chef.ActionReduceQuality {
			printer.Warning("Strategy: %s\n", decision)
		}
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().Float64Var(&createDuration, "duration", 0, "target duration in seconds")
	projectCreateCmd.Flags().StringVar(&createTier, "tier", string(blackboard.QualityHigh), "quality tier: high, balanced or fast")
	projectCreateCmd.Flags().StringVar(&createAspect, "aspect-ratio", "16:9", "aspect ratio")
	projectCreateCmd.Flags().StringVar(&createStyle, "style", "", "visual style")
	projectCreateCmd.Flags().StringVar(&createSeries, "series", "", "series ID for asset reuse")

	projectShowCmd.Flags().BoolVar(&showAudit, "audit", false, "include the audit log")
	projectShowCmd.Flags().StringVar(&showSince, "since", "", "audit entries at or after (duration ago or RFC3339)")
	projectShowCmd.Flags().StringVar(&showUntil, "until", "", "audit entries before (duration ago or RFC3339)")

	projectAddCostCmd.Flags().Float64Var(&costAmount, "amount", 0, "amount to add")
	projectAddCostCmd.Flags().StringVar(&costCurrency, "currency", "", "currency (default budget.currency)")
	projectAddCostCmd.Flags().StringVar(&costDescription, "description", "", "audit description")
	_ = projectAddCostCmd.MarkFlagRequired("amount")

	projectCmd.AddCommand(projectCreateCmd, projectShowCmd, projectAddCostCmd)
}
