package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/infra"
)

var (
	// Глобальные флаги
	configPath string
	agentFlag  string

	cfg    *infra.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Governance core for an agent swarm",
	Long: `governor routes agent requests through the reasoning model,
checks every proposed action against the autonomy rules, keeps the daily
model budget and writes each decision to the audit trail.

Run "governor serve" to start the console API, the heartbeat loop and the
document watchers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = infra.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = infra.NewLogger(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	rootCmd.AddCommand(processCmd, heartbeatCmd, statusCmd, serveCmd)
	rootCmd.AddCommand(auditCmd, costsCmd, outcomesCmd, approvalsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
