package commands

import (
	"github.com/dyluth/reelforge/internal/models"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the model registry and routing",
}

var (
	listType       string
	listTier       string
	listActiveOnly bool

	selectType      string
	selectTier      string
	selectDowngrade bool
)

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured models",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := modelRegistry()
		if err != nil {
			return err
		}
		var filters []models.Filter
		if listType != "" {
			filters = append(filters, models.ByType(models.ModelType(listType)))
		}
		if listTier != "" {
			filters = append(filters, models.ByTier(blackboard.QualityTier(listTier)))
		}
		if listActiveOnly {
			filters = append(filters, models.ActiveOnly())
		}
		list := reg.ListModels(filters...)
		if viper.GetBool("json") {
			return printer.JSON(list)
		}
		rows := make([][]any, 0, len(list))
		for _, m := range list {
			rows = append(rows, []any{m.ID, m.Type, m.Provider, m.QualityTier, m.CostPerUnit, m.AvgLatencyMs, m.Active})
		}
		printer.Table([]string{"ID", "Type", "Provider", "Tier", "Cost/unit", "Latency ms", "Active"}, rows)
		return nil
	},
}

var modelsSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Show which model the router picks for a type and tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := modelRegistry()
		if err != nil {
			return err
		}
		sel, err := models.NewRouter(reg).Select(models.ModelType(selectType), blackboard.QualityTier(selectTier), selectDowngrade)
		if err != nil {
			return printer.Error("No model selected", err.Error(), []string{"Add an active model for this type to reelforge.yml", "Retry with --downgrade"})
		}
		if viper.GetBool("json") {
			return printer.JSON(sel)
		}
		printer.Success("%s (%s, %s tier, %.4f/unit)\n", sel.Model.ID, sel.Model.Provider, sel.Model.QualityTier, sel.Model.CostPerUnit)
		if sel.Downgraded {
			printer.Warning("Downgraded from requested tier %s\n", sel.RequestedTier)
		}
		return nil
	},
}

func init() {
	modelsListCmd.Flags().StringVar(&listType, "type", "", "filter by model type")
	modelsListCmd.Flags().StringVar(&listTier, "tier", "", "filter by quality tier")
	modelsListCmd.Flags().BoolVar(&listActiveOnly, "active", false, "only active models")

	modelsSelectCmd.Flags().StringVar(&selectType, "type", "", "model type")
	modelsSelectCmd.Flags().StringVar(&selectTier, "tier", string(blackboard.QualityHigh), "minimum quality tier")
	modelsSelectCmd.Flags().BoolVar(&selectDowngrade, "downgrade", false, "allow falling back to a lower tier")
	_ = modelsSelectCmd.MarkFlagRequired("type")

	modelsCmd.AddCommand(modelsListCmd, modelsSelectCmd)
}
