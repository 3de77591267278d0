package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/swarm-governor/internal/audit"
	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

var (
	auditDays    int
	auditLimit   int
	auditAction  string
	auditOutcome string
	auditTrigger string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := audit.Filter{
			AgentID: agentFlag,
			Trigger: domain.TriggerKind(auditTrigger),
			Action:  domain.ActionKind(auditAction),
			Outcome: domain.OutcomeStatus(auditOutcome),
			Limit:   auditLimit,
		}
		if auditDays > 0 {
			f.Start = time.Now().AddDate(0, 0, -(auditDays - 1))
		}
		return withApp(cmd.Context(), func(a *app) error {
			entries := service.NewGovernorService(a.gov, logger).ListAudit(cmd.Context(), f)
			heading(fmt.Sprintf("Audit entries (%d)", len(entries)))
			return printJSON(entries)
		})
	},
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics for the last days",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			heading(fmt.Sprintf("Audit stats, %d days", auditDays))
			return printJSON(service.NewGovernorService(a.gov, logger).AuditStats(cmd.Context(), auditDays))
		})
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a single audit entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			e, err := service.NewGovernorService(a.gov, logger).GetEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(e)
		})
	},
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditDays, "days", 7, "look-back window in days")
	auditListCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "filter by agent")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "filter by action type")
	auditListCmd.Flags().StringVar(&auditOutcome, "outcome", "", "filter by outcome status")
	auditListCmd.Flags().StringVar(&auditTrigger, "trigger", "", "filter by trigger")
	auditCmd.AddCommand(auditListCmd, auditStatsCmd, auditShowCmd)
}
