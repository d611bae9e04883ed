package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"calmirror/internal/config"
	appLog "calmirror/internal/log"
)

var version = "0.1.0-dev"

// rootOptions holds values shared by every subcommand.
type rootOptions struct {
	configPath string
	outputJSON bool
	v          *viper.Viper
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "calmirror",
		Short: "Mirror calendars into privacy-safe busy blocks",
		Long: `calmirror copies events from source calendars into a target calendar as
busy blocks that keep the time but drop the details. Each mirror carries a
marker linking it to its source, so every run can reconcile the target
without a separate mapping table.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "calmirror.yaml", "path to config file (created with defaults if missing)")
	pf.BoolVarP(&opts.outputJSON, "json", "j", false, "output in JSON format")
	pf.String("database", "", "SQLite calendar store path (overrides config)")
	pf.String("log-level", "", "log level: debug, info, warn, error (overrides config)")

	opts.v.SetEnvPrefix("calmirror")
	opts.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	opts.v.AutomaticEnv()
	_ = opts.v.BindPFlag("database", pf.Lookup("database"))
	_ = opts.v.BindPFlag("log_level", pf.Lookup("log-level"))

	root.AddCommand(
		newRunCmd(opts),
		newSyncCmd(opts),
		newRuleCmd(opts),
		newCalendarCmd(opts),
		newImportCmd(opts),
	)
	return root
}

// loadConfig reads the config file, applies CALMIRROR_* environment and
// flag overrides, and sets up logging.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if p := o.v.GetString("config"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	o.applyOverrides(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		appLog.SetOutput(io.MultiWriter(os.Stderr, appLog.RotatingFile(cfg.LogFile)))
	}
	if err := appLog.EnableSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		appLog.Warn("sentry disabled", "err", err.Error())
	}
	return cfg, nil
}

func (o *rootOptions) applyOverrides(cfg *config.Config) {
	v := o.v
	if v.IsSet("listen") {
		cfg.Listen = v.GetString("listen")
	}
	if v.IsSet("database") {
		cfg.Database = v.GetString("database")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("log_file") {
		cfg.LogFile = v.GetString("log_file")
	}
	if v.IsSet("sentry_dsn") {
		cfg.SentryDSN = v.GetString("sentry_dsn")
	}
	if v.IsSet("environment") {
		cfg.Environment = v.GetString("environment")
	}
	if v.IsSet("sync_interval_minutes") {
		cfg.PrivacySync.SyncIntervalMinutes = v.GetInt("sync_interval_minutes")
	}
	if v.IsSet("max_concurrent_syncs") {
		cfg.PrivacySync.MaxConcurrentSyncs = v.GetInt("max_concurrent_syncs")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
