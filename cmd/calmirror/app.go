package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"calmirror/internal/config"
	"calmirror/internal/ics"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/privacysync"
	"calmirror/internal/provider"
	"calmirror/internal/store"
)

// app wires the store, feed importer and sync engine for one command.
type app struct {
	cfg      *config.Config
	store    *store.Store
	importer *ics.Importer
	engine   *privacysync.Engine
}

func openApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    st,
		importer: ics.NewImporter(ics.NewFetcher(cfg.PrivacySync.ICSCacheDir), st),
	}

	providers := provider.NewFactory(st, cfg.PrivacySync.ICSPublishDir)
	ps := cfg.PrivacySync
	a.engine = privacysync.New(privacysync.Config{
		SyncInterval:       time.Duration(ps.SyncIntervalMinutes) * time.Minute,
		MaxConcurrentSyncs: ps.MaxConcurrentSyncs,
		DefaultTitle:       ps.DefaultTitle,
		MaxPastDays:        ps.MaxPastDays,
		MaxFutureDays:      ps.MaxFutureDays,
		RetryFailedAfter:   time.Duration(ps.RetryFailedAfterMinutes) * time.Minute,
		MaxRetryAttempts:   ps.MaxRetryAttempts,
	}, st,
		privacysync.ProviderFactoryFunc(func(ctx context.Context, acct *model.Account) (privacysync.Provider, error) {
			return providers.NewProvider(ctx, acct)
		}),
		privacysync.WithRecurrenceParser(ics.RecurrenceParser{}),
		privacysync.WithPrePass(a.refreshFeeds),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// refreshFeeds imports every configured feed over the widest window any
// enabled rule uses. One failing feed does not stop the others.
func (a *app) refreshFeeds(ctx context.Context) error {
	if len(a.cfg.Feeds) == 0 {
		return nil
	}
	window, err := a.importWindow(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, f := range a.cfg.Feeds {
		stats, err := a.importer.Import(ctx, f.CalendarID, f.URL, window)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		appLog.Debug("feed refreshed",
			"calendar_id", f.CalendarID, "upserted", stats.Upserted, "removed", stats.Removed, "from_cache", stats.FromCache)
	}
	return errors.Join(errs...)
}

func (a *app) importWindow(ctx context.Context) (model.SyncWindow, error) {
	window := model.SyncWindow{PastDays: model.DefaultPastDays, FutureDays: model.DefaultFutureDays}
	rules, err := a.store.ListEnabledSyncRules(ctx)
	if err != nil {
		return window, err
	}
	for _, r := range rules {
		w := r.EffectiveWindow()
		window.PastDays = max(window.PastDays, w.PastDays)
		window.FutureDays = max(window.FutureDays, w.FutureDays)
	}
	return window, nil
}
