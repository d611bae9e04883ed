package privacysync

import (
	"context"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// Decision is the per-event answer in advanced mode.
type Decision int

const (
	// DecisionSkip leaves the event unmirrored for this run.
	DecisionSkip Decision = iota
	// DecisionSyncOnce mirrors the event.
	DecisionSyncOnce
	// DecisionAlwaysSync mirrors the event and asks the decider to remember
	// the choice.
	DecisionAlwaysSync
)

func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionSyncOnce:
		return "sync_once"
	case DecisionAlwaysSync:
		return "always_sync"
	default:
		return "unknown"
	}
}

// Decider is consulted for every filtered source event of a rule in
// advanced mode.
type Decider interface {
	Decide(ctx context.Context, rule model.SyncRule, ev model.Event) (Decision, error)
	// RememberAlways records an auto-sync choice for similar events.
	RememberAlways(ctx context.Context, rule model.SyncRule, ev model.Event) error
}

// SyncOnceDecider mirrors every event and remembers nothing.
type SyncOnceDecider struct{}

func (SyncOnceDecider) Decide(context.Context, model.SyncRule, model.Event) (Decision, error) {
	return DecisionSyncOnce, nil
}

func (SyncOnceDecider) RememberAlways(_ context.Context, rule model.SyncRule, ev model.Event) error {
	appLog.Debug("auto-sync preference not stored", "rule_id", rule.ID, "source_event_id", ev.ID)
	return nil
}
