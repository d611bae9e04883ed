// Package privacysync mirrors source calendar events into a target calendar
// as busy blocks that carry no private detail.
//
// Nothing maps a source event to its mirror except a marker stored on the
// mirror itself, so every run rescans the target calendar and derives the
// create/update/delete set from what it finds there.
package privacysync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// Config holds the engine knobs.
type Config struct {
	SyncInterval       time.Duration
	MaxConcurrentSyncs int
	DefaultTitle       string
	MaxPastDays        int
	MaxFutureDays      int
	// RetryFailedAfter and MaxRetryAttempts gate scheduled passes for rules
	// whose last run failed. Zero disables the respective gate.
	RetryFailedAfter time.Duration
	MaxRetryAttempts int
}

const (
	defaultSyncInterval       = 5 * time.Minute
	defaultMaxConcurrentSyncs = 5
)

// Option configures an Engine.
type Option func(*Engine)

// WithDecider sets the advanced-mode decider.
func WithDecider(d Decider) Option {
	return func(e *Engine) { e.decider = d }
}

// WithRecurrenceParser lets mirrors of recurring events carry their rule.
func WithRecurrenceParser(p RecurrenceParser) Option {
	return func(e *Engine) { e.recurrence = p }
}

// WithPrePass runs fn at the start of every pass, before the rules are
// loaded. An error from fn is logged and the pass continues.
func WithPrePass(fn func(ctx context.Context) error) Option {
	return func(e *Engine) { e.prePass = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs privacy sync rules.
type Engine struct {
	cfg        Config
	store      Store
	runner     *Runner
	decider    Decider
	recurrence RecurrenceParser
	prePass    func(ctx context.Context) error
	now        func() time.Time

	mu          sync.Mutex
	lastResults []RunResult
	states      map[string]RunState
	// running holds the ids of rules with a run in flight; a manual and a
	// scheduled pass never run the same rule at once.
	running map[string]struct{}

	scheduler *Scheduler
}

func New(cfg Config, store Store, providers ProviderFactory, opts ...Option) *Engine {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = defaultMaxConcurrentSyncs
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		decider: SyncOnceDecider{},
		now:     time.Now,
		states:  make(map[string]RunState),
		running: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	projector := Projector{DefaultTitle: cfg.DefaultTitle, Recurrence: e.recurrence}
	e.runner = NewRunner(store, providers,
		NewReconciler(store, projector, e.decider),
		NewSweeper(store),
		Limits{MaxPastDays: cfg.MaxPastDays, MaxFutureDays: cfg.MaxFutureDays},
	)
	e.runner.now = e.now
	return e
}

// CreatePrivacySyncRule validates rule, assigns an id when it has none and
// stores it.
func (e *Engine) CreatePrivacySyncRule(ctx context.Context, rule model.SyncRule) (string, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, err := ValidateRule(ctx, e.store, rule, e.runner.limits); err != nil {
		return "", err
	}
	if err := e.store.CreateSyncRule(ctx, &rule); err != nil {
		return "", err
	}
	appLog.Info("privacy sync rule created",
		"rule_id", rule.ID, "target_calendar_id", rule.TargetCalendarID, "sources", len(rule.SourceScope()))
	return rule.ID, nil
}

// ExecutePrivacySync runs every enabled rule now. Failed rules are retried
// regardless of the retry gate.
func (e *Engine) ExecutePrivacySync(ctx context.Context) ([]RunResult, error) {
	return e.runPass(ctx, false)
}

// RunPass is the scheduled pass: like ExecutePrivacySync, but rules waiting
// out a failure are skipped.
func (e *Engine) RunPass(ctx context.Context) ([]RunResult, error) {
	return e.runPass(ctx, true)
}

// ExecutePrivacySyncRule runs one rule by id, ignoring its enabled and
// active flags and the retry gate.
func (e *Engine) ExecutePrivacySyncRule(ctx context.Context, ruleID string) (RunResult, error) {
	rule, err := e.store.GetSyncRule(ctx, ruleID)
	if err != nil {
		return RunResult{RuleID: ruleID, Status: StatusFailed, Error: err.Error()}, err
	}
	if !e.begin(rule.ID) {
		return RunResult{RuleID: rule.ID, Skipped: true, Status: StatusRunning}, nil
	}
	return e.run(ctx, *rule), nil
}

func (e *Engine) begin(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[ruleID]; busy {
		return false
	}
	e.running[ruleID] = struct{}{}
	return true
}

// run executes a rule claimed by begin and records its state.
func (e *Engine) run(ctx context.Context, rule model.SyncRule) RunResult {
	res, st := e.runner.Run(ctx, rule)

	e.mu.Lock()
	e.states[rule.ID] = st
	delete(e.running, rule.ID)
	e.mu.Unlock()
	return res
}

// LastResults returns the results of the most recent pass.
func (e *Engine) LastResults() []RunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RunResult, len(e.lastResults))
	copy(out, e.lastResults)
	return out
}

// State returns the in-memory state of a rule after its last run in this
// process.
func (e *Engine) State(ruleID string) (RunState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ruleID]
	return st, ok
}

func (e *Engine) runPass(ctx context.Context, gated bool) ([]RunResult, error) {
	if e.prePass != nil {
		if err := e.prePass(ctx); err != nil {
			appLog.Error("pre-pass hook failed", err)
		}
	}

	rules, err := e.store.ListEnabledSyncRules(ctx)
	if err != nil {
		return nil, err
	}

	passStart := e.now()
	results := make([]RunResult, len(rules))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrentSyncs))
	var wg sync.WaitGroup

	for i, rule := range rules {
		if !rule.Active {
			results[i] = RunResult{RuleID: rule.ID, Skipped: true, Status: StatusPaused}
			continue
		}
		if gated {
			if reason, skip := e.retryGate(rule); skip {
				appLog.Debug("rule skipped", "rule_id", rule.ID, "reason", reason)
				results[i] = RunResult{RuleID: rule.ID, Skipped: true, Status: StatusFailed, Error: reason}
				continue
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = RunResult{RuleID: rule.ID, Status: StatusFailed, Error: err.Error()}
			continue
		}
		if !e.begin(rule.ID) {
			sem.Release(1)
			results[i] = RunResult{RuleID: rule.ID, Skipped: true, Status: StatusRunning}
			continue
		}
		wg.Add(1)
		go func(i int, rule model.SyncRule) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.run(ctx, rule)
		}(i, rule)
	}
	wg.Wait()

	failed := 0
	for _, res := range results {
		if !res.Success && !res.Skipped {
			failed++
			appLog.Warn("privacy sync rule did not complete", "rule_id", res.RuleID, "error", res.Error)
		}
	}
	appLog.Info("privacy sync pass finished",
		"rules", len(rules), "failed", failed, "duration", e.now().Sub(passStart).String())

	e.mu.Lock()
	e.lastResults = results
	e.mu.Unlock()
	return results, nil
}

// retryGate reports whether a scheduled pass should leave rule alone
// because its last run failed.
func (e *Engine) retryGate(rule model.SyncRule) (string, bool) {
	snap, ok, err := SnapshotOf(rule)
	if err != nil {
		appLog.Warn("unreadable run snapshot", "rule_id", rule.ID, "err", err.Error())
		return "", false
	}
	if !ok || snap.Status != StatusFailed {
		return "", false
	}
	if e.cfg.MaxRetryAttempts > 0 && snap.RetryCount >= e.cfg.MaxRetryAttempts {
		return "retry attempts exhausted", true
	}
	if e.cfg.RetryFailedAfter > 0 && snap.LastAttempt != nil &&
		e.now().Sub(*snap.LastAttempt) < e.cfg.RetryFailedAfter {
		return "waiting before retry", true
	}
	return "", false
}
