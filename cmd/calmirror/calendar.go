package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

func newCalendarCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage local calendars",
	}
	cmd.AddCommand(newCalendarAddCmd(opts), newCalendarListCmd(opts))
	return cmd
}

func newCalendarAddCmd(opts *rootOptions) *cobra.Command {
	var (
		cal        model.Calendar
		providerID string
		publishDir string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a calendar, and its account if needed",
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
			ctx := commandContext(cmd)

			_, err = a.store.GetAccount(ctx, cal.AccountID)
			switch {
			case errors.Is(err, appErr.ErrNotFound):
				acct := &model.Account{
					ID:       cal.AccountID,
					Name:     cal.AccountID,
					Provider: model.ProviderKind(providerID),
					Enabled:  true,
				}
				if publishDir != "" {
					acct.Config = map[string]string{"publish_dir": publishDir}
				}
				if err := a.store.CreateAccount(ctx, acct); err != nil {
					return err
				}
			case err != nil:
				return err
			}

			if cal.Name == "" {
				cal.Name = cal.ID
			}
			if err := a.store.CreateCalendar(ctx, &cal); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cal.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cal.ID, "id", "", "calendar id (generated when empty)")
	f.StringVar(&cal.Name, "name", "", "display name")
	f.StringVar(&cal.AccountID, "account", "local", "owning account id")
	f.StringVar(&cal.Timezone, "timezone", "", "IANA zone of the calendar")
	f.StringVar(&providerID, "provider", string(model.ProviderLocal), "provider of a new account: local or ics")
	f.StringVar(&publishDir, "publish-dir", "", "where an ics account publishes its calendars")
	return cmd
}

func newCalendarListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List calendars",
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

			cals, err := a.store.ListCalendars(commandContext(cmd))
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), cals)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACCOUNT\tTIMEZONE")
			for _, c := range cals {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.AccountID, c.Timezone)
			}
			return tw.Flush()
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		calendarID string
		url        string
		window     model.SyncWindow
	)

	cmd := &cobra.Command{
		Use:   "import --calendar <id> --url <ics-url>",
		Short: "Import an ICS feed into a local calendar",
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

			stats, err := a.importer.Import(commandContext(cmd), calendarID, url, window)
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d, removed %d, truncated %d (cached: %t)\n",
				stats.Upserted, stats.Removed, stats.Truncated, stats.FromCache)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&calendarID, "calendar", "", "local calendar to import into")
	f.StringVar(&url, "url", "", "ICS feed URL")
	f.IntVar(&window.PastDays, "past-days", model.DefaultPastDays, "days before now to import")
	f.IntVar(&window.FutureDays, "future-days", model.DefaultFutureDays, "days after now to import")
	_ = cmd.MarkFlagRequired("calendar")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
