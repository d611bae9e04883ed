package privacysync

import (
	"encoding/json"
	"maps"
	"time"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

// Status is the run state of one rule.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPaused and StatusDisabled are set from outside the run loop
	// only; a failed run never enters them.
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
)

// RunStats counts what one run did.
type RunStats struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	// Unchanged mirrors already matched their projection; no provider
	// call was made for them.
	Unchanged int           `json:"unchanged"`
	Deleted   int           `json:"deleted"`
	Conflicts int           `json:"conflicts"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration_ns"`
}

func (s *RunStats) add(o RunStats) {
	s.Processed += o.Processed
	s.Created += o.Created
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Deleted += o.Deleted
	s.Conflicts += o.Conflicts
	s.Errors += o.Errors
}

// RunState is the live state of one rule.
type RunState struct {
	Status      Status
	LastAttempt *time.Time
	LastSuccess *time.Time
	RetryCount  int
	LastError   string
	// Mirrors maps source event id to mirror ids as of the last run. It is
	// informational; reconciliation always rescans the target calendar.
	Mirrors map[string][]string
	Stats   RunStats
}

// RunResult is the outcome of one rule within a pass.
type RunResult struct {
	RuleID  string `json:"rule_id"`
	Success bool   `json:"success"`
	// Skipped is set when the rule was not run at all (paused, or waiting
	// out a failure).
	Skipped         bool          `json:"skipped,omitempty"`
	Status          Status        `json:"status"`
	Error           string        `json:"error,omitempty"`
	EventsProcessed int           `json:"events_processed"`
	EventsSynced    int           `json:"events_synced"`
	Duration        time.Duration `json:"duration_ns"`
	Stats           RunStats      `json:"stats"`
}

func resultFrom(ruleID string, st RunState) RunResult {
	return RunResult{
		RuleID:          ruleID,
		Success:         st.Status == StatusCompleted,
		Status:          st.Status,
		Error:           st.LastError,
		EventsProcessed: st.Stats.Processed,
		EventsSynced:    st.Stats.Created + st.Stats.Updated,
		Duration:        st.Stats.Duration,
		Stats:           st.Stats,
	}
}

// Snapshot is the persisted part of RunState, kept in the rule's metadata
// under "last_run".
type Snapshot struct {
	Status      Status     `json:"status"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	Stats       RunStats   `json:"stats"`
}

// MetadataKey is where the run snapshot lives in SyncRule.Metadata.
const MetadataKey = "last_run"

func (st RunState) snapshot() Snapshot {
	return Snapshot{
		Status:      st.Status,
		LastAttempt: st.LastAttempt,
		LastSuccess: st.LastSuccess,
		RetryCount:  st.RetryCount,
		LastError:   st.LastError,
		Stats:       st.Stats,
	}
}

// SnapshotOf reads the persisted run snapshot of rule. The metadata value
// may be a Snapshot or its decoded JSON form.
func SnapshotOf(rule model.SyncRule) (Snapshot, bool, error) {
	v, ok := rule.Metadata[MetadataKey]
	if !ok || v == nil {
		return Snapshot{}, false, nil
	}
	switch s := v.(type) {
	case Snapshot:
		return s, true, nil
	case *Snapshot:
		return *s, true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, false, appErr.NewSerializationError("run snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, appErr.NewSerializationError("run snapshot", err)
	}
	return snap, true, nil
}

// withSnapshot returns a copy of md carrying snap.
func withSnapshot(md map[string]any, snap Snapshot) map[string]any {
	out := maps.Clone(md)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out[MetadataKey] = snap
	return out
}

// stateFromRule seeds a run's state from the rule's persisted snapshot so
// the retry count survives restarts.
func stateFromRule(rule model.SyncRule) RunState {
	st := RunState{Status: StatusIdle}
	snap, ok, err := SnapshotOf(rule)
	if err != nil || !ok {
		return st
	}
	st.Status = snap.Status
	st.LastAttempt = snap.LastAttempt
	st.LastSuccess = snap.LastSuccess
	st.RetryCount = snap.RetryCount
	st.LastError = snap.LastError
	st.Stats = snap.Stats
	return st
}
