package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/engine"
)

var (
	processTrigger   string
	processSource    string
	processForceTier string
)

var processCmd = &cobra.Command{
	Use:   "process [text]",
	Short: "Run one request through the pipeline",
	Long: `Processes a request end to end: context retrieval, model routing,
reasoning, permission check, action and audit record.

Example:
  governor process --agent mason "customer asked for a $200 refund"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger := domain.TriggerKind(processTrigger)
		if !trigger.Valid() {
			return fmt.Errorf("%w: unknown trigger %q", domain.ErrParse, processTrigger)
		}
		return withApp(cmd.Context(), func(a *app) error {
			svc := service.NewGovernorService(a.gov, logger)
			resp := svc.Process(cmd.Context(), engine.Input{
				Text:      strings.Join(args, " "),
				Trigger:   trigger,
				Source:    processSource,
				AgentID:   agentFlag,
				ForceTier: processForceTier,
			})
			printResponse(resp)
			return printJSON(resp)
		})
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run one periodic health check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			resp := service.NewGovernorService(a.gov, logger).RunHeartbeat(cmd.Context())
			printResponse(resp)
			return printJSON(resp)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show audit, budget, approval and heartbeat status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			st, err := service.NewGovernorService(a.gov, logger).Status(cmd.Context())
			if err != nil {
				return err
			}
			heading("System status")
			if st.LastHeartbeat != nil {
				fmt.Println(mutedStyle.Render(fmt.Sprintf("last heartbeat %s: %s",
					st.LastHeartbeat.Timestamp.Format("2006-01-02 15:04"), st.LastHeartbeat.Overall)))
			}
			return printJSON(st)
		})
	},
}

func printResponse(resp engine.Response) {
	heading("Decision")
	fmt.Println(resp.Decision)
	fmt.Println(verdict(resp.Success, "ok", "failed"), mutedStyle.Render(fmt.Sprintf("level=%s tier=%s cost=$%.4f", resp.AutonomyLevel, resp.TierUsed, resp.CostUSD)))
	if resp.Error != "" {
		fmt.Println(errorStyle.Render(resp.Error))
	}
}

func init() {
	processCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "agent id (default from engine.default_agent)")
	processCmd.Flags().StringVar(&processTrigger, "trigger", string(domain.TriggerManual), "trigger kind")
	processCmd.Flags().StringVar(&processSource, "source", "cli", "request source")
	processCmd.Flags().StringVar(&processForceTier, "tier", "", "force a model tier")
}
