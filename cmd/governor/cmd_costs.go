package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/swarm-governor/internal/console/service"
)

var costsDays int

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Model spend and budget",
}

var costsTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Today's spend against the daily limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			st := service.NewGovernorService(a.gov, logger).TodayCosts(cmd.Context())
			heading("Budget " + st.Date)
			fmt.Println(verdict(!st.AlertTriggered,
				fmt.Sprintf("$%.4f of $%.2f", st.SpentUSD, st.LimitUSD),
				fmt.Sprintf("$%.4f of $%.2f (alert threshold reached)", st.SpentUSD, st.LimitUSD)))
			return printJSON(st)
		})
	},
}

var costsWeekCmd = &cobra.Command{
	Use:   "summary",
	Short: "Spend over the last days",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			heading(fmt.Sprintf("Cost summary, %d days", costsDays))
			return printJSON(service.NewGovernorService(a.gov, logger).CostSummary(cmd.Context(), costsDays))
		})
	},
}

var costsAgentCmd = &cobra.Command{
	Use:   "agent [id]",
	Short: "Today's spend of one agent against its limit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return printJSON(service.NewGovernorService(a.gov, logger).AgentCosts(cmd.Context(), args[0]))
		})
	},
}

func init() {
	costsWeekCmd.Flags().IntVar(&costsDays, "days", 7, "look-back window in days")
	costsCmd.AddCommand(costsTodayCmd, costsWeekCmd, costsAgentCmd)
}
