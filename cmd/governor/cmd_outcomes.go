package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

var (
	outcomeDays  int
	outcomeValue float64
	outcomeNotes string
)

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Track what happened after agent actions",
}

var outcomesReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Effectiveness report across agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			svc := service.NewGovernorService(a.gov, logger)
			if agentFlag != "" {
				heading("Agent performance: " + agentFlag)
				return printJSON(svc.AgentPerformance(cmd.Context(), agentFlag, outcomeDays))
			}
			heading(fmt.Sprintf("Effectiveness, %d days", outcomeDays))
			return printJSON(svc.EffectivenessReport(cmd.Context(), "", outcomeDays))
		})
	},
}

var outcomesPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Entries still waiting for an outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			refs := service.NewGovernorService(a.gov, logger).PendingOutcomes(cmd.Context())
			heading(fmt.Sprintf("Pending outcomes (%d)", len(refs)))
			return printJSON(refs)
		})
	},
}

var outcomesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the outcome heuristics over the pending list",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			n, err := service.NewGovernorService(a.gov, logger).CheckOutcomes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("%d outcomes resolved", n)))
			return nil
		})
	},
}

var outcomesMarkCmd = &cobra.Command{
	Use:   "mark [id] [status]",
	Short: "Record an outcome by hand",
	Long: `Statuses: pending, acted_on, ignored, delayed, rejected, superseded.

Example:
  governor outcomes mark 3f2c... acted_on --value 200 --notes "refund closed the ticket"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value *float64
		if cmd.Flags().Changed("value") {
			value = &outcomeValue
		}
		var notes *string
		if outcomeNotes != "" {
			notes = &outcomeNotes
		}
		return withApp(cmd.Context(), func(a *app) error {
			err := service.NewGovernorService(a.gov, logger).MarkOutcome(cmd.Context(), args[0], domain.OutcomeStatus(args[1]), value, notes)
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render("outcome recorded"))
			return nil
		})
	},
}

func init() {
	outcomesReportCmd.Flags().IntVar(&outcomeDays, "days", 30, "look-back window in days")
	outcomesReportCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "report a single agent")
	outcomesMarkCmd.Flags().Float64Var(&outcomeValue, "value", 0, "value generated, USD")
	outcomesMarkCmd.Flags().StringVar(&outcomeNotes, "notes", "", "free-form notes")
	outcomesCmd.AddCommand(outcomesReportCmd, outcomesPendingCmd, outcomesCheckCmd, outcomesMarkCmd)
}
