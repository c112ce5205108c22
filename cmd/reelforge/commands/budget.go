package commands

import (
	"fmt"

	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Budget arithmetic and strategy evaluation",
}

var (
	allocDuration    float64
	allocTier        string
	strategyProgress float64
)

var budgetAllocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Compute the budget for a duration and quality tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return configError(err)
		}
		bm := chef.NewBudgetManager(cfg.Budget)
		rows := [][]any{}
		tiers := blackboard.QualityTiers()
		if allocTier != "" {
			tiers = []blackboard.QualityTier{blackboard.QualityTier(allocTier)}
		}
		results := map[blackboard.QualityTier]blackboard.Budget{}
		for _, tier := range tiers {
			b, err := bm.AllocateBudget(allocDuration, tier)
			if err != nil {
				return printer.Error("Cannot allocate budget", err.Error(), []string{"Use --tier high, balanced or fast"})
			}
			results[tier] = b
			rows = append(rows, []any{tier, fmt.Sprintf("%.2f", b.Total.Amount), b.Total.Currency})
		}
		if viper.GetBool("json") {
			return printer.JSON(results)
		}
		printer.Table([]string{"Tier", "Total", "Currency"}, rows)
		return nil
	},
}

var budgetStrategyCmd = &cobra.Command{
	Use:   "strategy <project-id>",
	Short: "Evaluate budget status, strategy and projected final cost",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		bm := a.budgetManager()
		status := bm.CheckBudgetStatus(p.Budget)
		decision := chef.NewStrategyAdjuster(a.cfg.Strategy).EvaluateStrategy(p.Budget, p.GlobalSpec.QualityTier)
		predicted := bm.PredictFinalCost(p.Budget, strategyProgress)

		if viper.GetBool("json") {
			return printer.JSON(struct {
				Status    chef.BudgetStatus `json:"status"`
				Decision  chef.Decision     `json:"decision"`
				Predicted blackboard.Money  `json:"predicted_final_cost"`
			}{status, decision, predicted})
		}
		target := "-"
		if decision.TargetTier != nil {
			target = string(*decision.TargetTier)
		}
		printer.Table([]string{"Field", "Value"}, [][]any{
			{"Budget status", printer.Status(string(status))},
			{"Usage", fmt.Sprintf("%.1f%%", decision.Usage*100)},
			{"Action", printer.Status(string(decision.Action))},
			{"Reason", decision.Reason},
			{"Current tier", p.GlobalSpec.QualityTier},
			{"Target tier", target},
			{"Predicted final cost", predicted},
		})
		return nil
	},
}

func init() {
	budgetAllocateCmd.Flags().Float64Var(&allocDuration, "duration", 0, "duration in seconds")
	budgetAllocateCmd.Flags().StringVar(&allocTier, "tier", "", "quality tier (default: all tiers)")
	_ = budgetAllocateCmd.MarkFlagRequired("duration")

	budgetStrategyCmd.Flags().Float64Var(&strategyProgress, "progress", 0, "completed fraction of the project in [0,1]")

	budgetCmd.AddCommand(budgetAllocateCmd, budgetStrategyCmd)
}
