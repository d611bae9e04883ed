package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	appLog "calmirror/internal/log"
	"calmirror/internal/privacysync"
	"calmirror/internal/web"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var syncNow bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon (scheduler and status API)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer appLog.Flush()

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			appLog.Info("calmirror starting",
				"version", version,
				"database", cfg.Database,
				"listen", cfg.Listen,
				"sync_interval_minutes", cfg.PrivacySync.SyncIntervalMinutes,
				"max_concurrent_syncs", cfg.PrivacySync.MaxConcurrentSyncs,
				"feeds", len(cfg.Feeds),
			)

			if syncNow {
				if _, err := a.engine.RunPass(ctx); err != nil {
					appLog.Error("initial privacy sync pass failed", err)
				}
			}
			if err := a.engine.Start(ctx); err != nil {
				return err
			}
			defer a.engine.Stop()

			if cfg.Listen == "" {
				<-ctx.Done()
			} else if err := web.StartServer(ctx, cfg, a.engine, a.store); err != nil {
				return fmt.Errorf("http server: %w", err)
			}

			appLog.Info("calmirror exiting")
			return nil
		},
	}

	cmd.Flags().String("listen", "", "HTTP listen address of the status API (overrides config)")
	cmd.Flags().BoolVar(&syncNow, "sync-now", true, "run one pass immediately instead of waiting for the first tick")
	_ = opts.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var ruleID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one privacy sync pass now and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer appLog.Flush()

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var results []privacysync.RunResult
			if ruleID != "" {
				res, err := a.engine.ExecutePrivacySyncRule(ctx, ruleID)
				if err != nil {
					return err
				}
				results = []privacysync.RunResult{res}
			} else if results, err = a.engine.ExecutePrivacySync(ctx); err != nil {
				return err
			}

			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printResults(cmd, results)
			return nil
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "run only this rule")
	return cmd
}

func printResults(cmd *cobra.Command, results []privacysync.RunResult) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tSTATUS\tPROCESSED\tSYNCED\tDELETED\tERRORS\tDURATION")
	for _, r := range results {
		status := string(r.Status)
		if r.Skipped {
			status += " (skipped)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.RuleID, status, r.EventsProcessed, r.EventsSynced, r.Stats.Deleted, r.Stats.Errors, r.Duration)
	}
	_ = tw.Flush()

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", r.RuleID, r.Error)
		}
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
