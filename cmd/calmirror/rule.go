package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"calmirror/internal/model"
	"calmirror/internal/privacysync"
)

func newRuleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage privacy sync rules",
	}
	cmd.AddCommand(newRuleAddCmd(opts), newRuleListCmd(opts))
	return cmd
}

func newRuleAddCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "add -f rule.yaml",
		Short: "Validate and store a rule read from a YAML file",
		Long: `Reads a sync rule from YAML, for example:

  name: work to personal
  source_calendar_id: work
  target_calendar_id: personal
  filters: [work_hours_only, "min_duration=15"]
  privacy:
    strip_description: true
    strip_location: true
    strip_attendees: true
    title_template: "{{emoji}} {{duration}}"
  window:
    past_days: 7
    future_days: 90

enabled and active default to true.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rule, err := readRuleFile(file)
			if err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.engine.CreatePrivacySyncRule(commandContext(cmd), rule)
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule YAML file ('-' for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readRuleFile(path string) (model.SyncRule, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.SyncRule{}, err
	}

	rule := model.SyncRule{Enabled: true, Active: true}
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return model.SyncRule{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rule, nil
}

func newRuleListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules with their last run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.store.ListSyncRules(commandContext(cmd))
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), rules)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSOURCES\tTARGET\tSTATE\tLAST RUN\tRETRIES")
			for _, r := range rules {
				state := "enabled"
				switch {
				case !r.Enabled:
					state = string(privacysync.StatusDisabled)
				case !r.Active:
					state = string(privacysync.StatusPaused)
				}
				lastRun, retries := "-", 0
				if snap, ok, _ := privacysync.SnapshotOf(r); ok {
					lastRun = string(snap.Status)
					retries = snap.RetryCount
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					r.ID, r.Name, strings.Join(r.SourceScope(), ","), r.TargetCalendarID, state, lastRun, retries)
			}
			return tw.Flush()
		},
	}
}
