package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/resolver"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/internal/timespec"
	"github.com/dyluth/reelforge/internal/watch"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "List and answer human intervention requests",
}

var (
	gateStatus string
	gateSince  string
	gateUntil  string

	waitTimeout time.Duration

	decideNotes  string
	decideReason string
)

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gate requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := timespec.ParseRange(gateSince, gateUntil, time.Now())
		if err != nil {
			return printer.Error("invalid time range", err.Error(), []string{"Use a duration like 1h30m or an RFC3339 timestamp"})
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := a.gate().List(cmd.Context(), blackboard.GateStatus(strings.ToUpper(gateStatus)))
		if err != nil {
			return err
		}
		reqs := make([]blackboard.HumanGateRequest, 0, len(all))
		for _, req := range all {
			if r.Contains(req.CreatedAt) {
				reqs = append(reqs, req)
			}
		}
		if viper.GetBool("json") {
			return printer.JSON(reqs)
		}
		if len(reqs) == 0 {
			printer.Info("No gate requests\n")
			return nil
		}
		rows := make([][]any, 0, len(reqs))
		for _, r := range reqs {
			rows = append(rows, []any{r.RequestID, r.ProjectID, printer.Status(string(r.Status)), r.Reason,
				r.CreatedAt.Format("2006-01-02 15:04:05"), r.Resolution})
		}
		printer.Table([]string{"Request", "Project", "Status", "Reason", "Created", "Resolution"}, rows)
		return nil
	},
}

var gateDecideCmd = &cobra.Command{
	Use:   "decide <request-id-or-prefix> <approve|revise|reject>",
	Short: "Resolve a pending gate request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := resolver.ResolveGateID(cmd.Context(), a.store, args[0])
		if resolver.IsNotFoundError(err) {
			return printer.Error(fmt.Sprintf("Gate request '%s' not found", args[0]), "List open requests with: reelforge gate list --status PENDING", nil)
		}
		if err != nil {
			return shortIDError(err)
		}

		gate := a.gate()
		req, err := gate.Get(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return printer.Error(fmt.Sprintf("Gate request '%s' not found", id), "List open requests with: reelforge gate list --status PENDING", nil)
		}
		if err != nil {
			return err
		}

		outcome, err := gate.HandleUserDecision(cmd.Context(), req, chef.UserDecision{
			Action: args[1],
			Notes:  decideNotes,
			Reason: decideReason,
		})
		if errors.Is(err, chef.ErrGateNotPending) {
			return printer.ErrorWithContext("Gate request already closed", "",
				map[string]string{"Status": string(req.Status), "Resolution": req.Resolution}, nil)
		}
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printer.JSON(outcome)
		}
		printer.Success("Request %s resolved: %s\n", req.RequestID, printer.Status(string(outcome.Action)))
		return nil
	},
}

var gateWaitCmd = &cobra.Command{
	Use:   "wait <project-id>",
	Short: "Block until a gate request opens for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := watch.PollForGate(cmd.Context(), a.gate(), args[0], waitTimeout)
		if err != nil {
			return printer.ErrorWithContext("No gate request opened", err.Error(),
				map[string]string{"Project": args[0], "Timeout": waitTimeout.String()}, nil)
		}
		if viper.GetBool("json") {
			return printer.JSON(req)
		}
		printer.Warning("Gate %s opened for %s: %s\n", req.RequestID, req.ProjectID, req.Reason)
		return nil
	},
}

func init() {
	gateListCmd.Flags().StringVar(&gateStatus, "status", "", "PENDING, RESOLVED or EXPIRED (default all)")
	gateListCmd.Flags().StringVar(&gateSince, "since", "", "only requests created at or after (duration ago or RFC3339)")
	gateListCmd.Flags().StringVar(&gateUntil, "until", "", "only requests created before (duration ago or RFC3339)")

	gateWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Minute, "how long to wait")

	gateDecideCmd.Flags().StringVar(&decideNotes, "notes", "", "revision notes")
	gateDecideCmd.Flags().StringVar(&decideReason, "reason", "", "rejection reason")

	gateCmd.AddCommand(gateListCmd, gateDecideCmd, gateWaitCmd)
}
