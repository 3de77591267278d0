package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/domain"
)

var (
	approvalBy     string
	approvalReason string
	approvalStatus string
	checkContext   []string
	historyLimit   int
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review actions waiting for the principal",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests (pending by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			list, err := service.NewGovernorService(a.gov, logger).ListApprovals(cmd.Context(), approvalStatus)
			if err != nil {
				return err
			}
			heading(fmt.Sprintf("Approvals (%d)", len(list)))
			return printJSON(list)
		})
	},
}

func decideCmd(use, short string, approved bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [request-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				by := approvalBy
				if by == "" {
					by = a.gov.Autonomy.Approver()
				}
				err := service.NewGovernorService(a.gov, logger).DecideApproval(cmd.Context(), args[0], approved, by, approvalReason)
				if err != nil {
					return err
				}
				fmt.Println(verdict(approved, "approved by "+by, "rejected by "+by))
				return nil
			})
		},
	}
}

var (
	approvalsApproveCmd = decideCmd("approve", "Approve a pending request", true)
	approvalsRejectCmd  = decideCmd("reject", "Reject a pending request", false)
)

var approvalsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Decisions recorded in Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if a.decisions == nil {
				return errors.New("approval history requires database.url")
			}
			list, err := a.decisions.FindDecisions(cmd.Context(), agentFlag, historyLimit)
			if err != nil {
				return err
			}
			heading(fmt.Sprintf("Decisions (%d)", len(list)))
			return printJSON(list)
		})
	},
}

var approvalsCheckCmd = &cobra.Command{
	Use:   "check [agent] [category] [type]",
	Short: "Evaluate the autonomy rules for an action without running it",
	Long: `Context values are given as key=value; numbers and booleans are decoded as JSON.

Example:
  governor approvals check mason financial payment --ctx amount_usd=200`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		permCtx, err := parseContext(checkContext)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			res := service.NewGovernorService(a.gov, logger).CheckPermission(cmd.Context(), args[0], args[1], args[2], permCtx)
			heading("Permission")
			fmt.Println(verdict(res.Allowed, string(res.Level), string(res.Level)))
			return printJSON(res)
		})
	},
}

func parseContext(pairs []string) (map[string]any, error) {
	out := map[string]any{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: context %q is not key=value", domain.ErrParse, p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			decoded = v
		}
		out[k] = decoded
	}
	return out, nil
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalStatus, "status", "", "pending, approved, rejected or all")
	for _, c := range []*cobra.Command{approvalsApproveCmd, approvalsRejectCmd} {
		c.Flags().StringVar(&approvalBy, "by", "", "approver name (default from the autonomy rules)")
	}
	approvalsRejectCmd.Flags().StringVar(&approvalReason, "reason", "", "rejection reason")
	approvalsCheckCmd.Flags().StringArrayVar(&checkContext, "ctx", nil, "context value key=value, repeatable")
	approvalsHistoryCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "filter by agent")
	approvalsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum decisions")
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd, approvalsHistoryCmd, approvalsCheckCmd)
}
