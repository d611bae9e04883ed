package privacysync

import (
	"context"
	"fmt"
	"io"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// Runner executes one rule: validate, fetch, filter, reconcile, sweep and
// persist the outcome.
type Runner struct {
	store      Store
	providers  ProviderFactory
	reconciler *Reconciler
	sweeper    *Sweeper
	limits     Limits
	now        func() time.Time
}

func NewRunner(store Store, providers ProviderFactory, reconciler *Reconciler, sweeper *Sweeper, limits Limits) *Runner {
	return &Runner{
		store:      store,
		providers:  providers,
		reconciler: reconciler,
		sweeper:    sweeper,
		limits:     limits,
		now:        time.Now,
	}
}

// Run executes rule once and returns the result together with the final
// state. The state is persisted into the rule before Run returns, whatever
// the outcome.
func (r *Runner) Run(ctx context.Context, rule model.SyncRule) (RunResult, RunState) {
	st := stateFromRule(rule)
	started := r.now()
	st.Status = StatusRunning
	st.LastAttempt = &started
	st.Stats = RunStats{}
	st.Mirrors = nil

	err := r.runSafely(ctx, rule, &st)
	st.Stats.Duration = r.now().Sub(started)

	if err != nil {
		st.Status = StatusFailed
		st.RetryCount++
		st.LastError = err.Error()
		appLog.Error("privacy sync rule failed", err,
			"rule_id", rule.ID, "retry_count", st.RetryCount)
	} else {
		done := r.now()
		st.Status = StatusCompleted
		st.RetryCount = 0
		st.LastError = ""
		st.LastSuccess = &done
		appLog.Info("privacy sync rule completed",
			"rule_id", rule.ID,
			"processed", st.Stats.Processed,
			"created", st.Stats.Created,
			"updated", st.Stats.Updated,
			"deleted", st.Stats.Deleted,
			"errors", st.Stats.Errors,
			"duration", st.Stats.Duration.String(),
		)
	}

	r.persist(ctx, rule, st)
	return resultFrom(rule.ID, st), st
}

func (r *Runner) runSafely(ctx context.Context, rule model.SyncRule, st *RunState) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during sync of rule %s: %v", rule.ID, p)
		}
	}()

	spec, err := ValidateRule(ctx, r.store, rule, r.limits)
	if err != nil {
		return err
	}
	return r.execute(ctx, rule, spec, st)
}

func (r *Runner) execute(ctx context.Context, rule model.SyncRule, spec *FilterSpec, st *RunState) error {
	start, end := rule.EffectiveWindow().Bounds(r.now())

	acct, err := r.store.GetCalendarAccount(ctx, rule.TargetCalendarID)
	if err != nil {
		return err
	}
	target, err := r.providers.NewProvider(ctx, acct)
	if err != nil {
		return err
	}
	if c, ok := target.(io.Closer); ok {
		defer func() {
			if cerr := c.Close(); cerr != nil {
				st.Stats.Errors++
				appLog.Error("close target provider failed", cerr, "rule_id", rule.ID)
			}
		}()
	}

	sources, err := r.store.GetEventsInRange(ctx, rule.SourceScope(), start, end)
	if err != nil {
		return err
	}
	filtered := ApplyFilter(sources, spec)
	appLog.Debug("source events fetched",
		"rule_id", rule.ID, "fetched", len(sources), "filtered", len(filtered))

	stats, mirrors, err := r.reconciler.Reconcile(ctx, rule, filtered, target)
	st.Stats.add(stats)
	st.Mirrors = mirrors
	if err != nil {
		return err
	}

	swept, err := r.sweeper.Sweep(ctx, rule, start, end, target)
	st.Stats.Deleted += swept.Deleted
	st.Stats.Errors += swept.Errors
	return err
}

// persist writes the run outcome into the stored rule. It re-reads the rule
// so edits made during the run are kept, and ignores cancellation of ctx.
func (r *Runner) persist(ctx context.Context, rule model.SyncRule, st RunState) {
	ctx = context.WithoutCancel(ctx)

	stored, err := r.store.GetSyncRule(ctx, rule.ID)
	if err != nil {
		appLog.Error("load rule for state update failed", err, "rule_id", rule.ID)
		return
	}
	at := r.now()
	stored.LastSyncAt = &at
	stored.Metadata = withSnapshot(stored.Metadata, st.snapshot())
	if err := r.store.UpdateSyncRule(ctx, stored); err != nil {
		appLog.Error("persist rule state failed", err, "rule_id", rule.ID)
	}
}
