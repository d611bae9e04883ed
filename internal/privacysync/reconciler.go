package privacysync

import (
	"context"
	"slices"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// Reconciler diffs a rule's filtered source events against the mirrors
// found in its target calendar and applies the difference.
type Reconciler struct {
	store     Store
	projector Projector
	decider   Decider
}

func NewReconciler(store Store, projector Projector, decider Decider) *Reconciler {
	if decider == nil {
		decider = SyncOnceDecider{}
	}
	return &Reconciler{store: store, projector: projector, decider: decider}
}

// Reconcile makes the target calendar hold exactly one mirror per event in
// events. Per-event provider failures are counted in Errors and never stop
// the loop; only a failed scan of the target is returned as an error. The
// returned map is source event id to mirror ids.
func (r *Reconciler) Reconcile(ctx context.Context, rule model.SyncRule, events []model.Event, target Provider) (RunStats, map[string][]string, error) {
	var stats RunStats
	cache := make(map[string][]string, len(events))

	existing, err := r.scan(ctx, rule, target, &stats)
	if err != nil {
		return stats, cache, err
	}

	seen := make(map[string]struct{}, len(events))
	for _, src := range events {
		if err := ctx.Err(); err != nil {
			return stats, cache, err
		}
		if _, dup := seen[src.ID]; dup {
			continue
		}
		seen[src.ID] = struct{}{}
		stats.Processed++

		if rule.AdvancedMode && !r.decide(ctx, rule, src, &stats) {
			// A skipped event keeps its mirror out of the leftover set; the
			// user chose not to sync it this run, not to delete it.
			delete(existing, src.ID)
			continue
		}

		draft := r.projector.Project(src, rule)

		if cur, ok := existing[src.ID]; ok {
			delete(existing, src.ID)
			if draft.Matches(cur) {
				stats.Unchanged++
				cache[src.ID] = append(cache[src.ID], cur.ID)
				continue
			}
			if _, err := target.UpdateEvent(ctx, rule.TargetCalendarID, cur.ID, draft); err != nil {
				stats.Errors++
				appLog.Error("update mirror failed", err,
					"rule_id", rule.ID, "source_event_id", src.ID, "mirror_id", cur.ID)
				continue
			}
			stats.Updated++
			cache[src.ID] = append(cache[src.ID], cur.ID)
			continue
		}

		created, err := target.CreateEvent(ctx, draft)
		if err != nil {
			stats.Errors++
			appLog.Error("create mirror failed", err, "rule_id", rule.ID, "source_event_id", src.ID)
			continue
		}
		stats.Created++
		cache[src.ID] = append(cache[src.ID], created.ID)
	}

	leftover := make([]string, 0, len(existing))
	for id := range existing {
		leftover = append(leftover, id)
	}
	slices.Sort(leftover)
	for _, srcID := range leftover {
		m := existing[srcID]
		if err := target.DeleteEvent(ctx, rule.TargetCalendarID, m.ID); err != nil {
			stats.Errors++
			appLog.Error("delete stale mirror failed", err,
				"rule_id", rule.ID, "source_event_id", srcID, "mirror_id", m.ID)
			continue
		}
		stats.Deleted++
	}

	return stats, cache, nil
}

// scan returns this rule's mirrors in the target keyed by source event id.
// Extra copies of the same source are deleted as conflicts.
func (r *Reconciler) scan(ctx context.Context, rule model.SyncRule, target Provider, stats *RunStats) (map[string]model.Event, error) {
	events, err := r.store.GetEventsByCalendar(ctx, rule.TargetCalendarID, nil, nil)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]model.Event)
	for _, m := range mirrorsOf(rule.ID, events) {
		if _, dup := existing[m.marker.SourceEventID]; !dup {
			existing[m.marker.SourceEventID] = m.event
			continue
		}
		stats.Conflicts++
		appLog.Warn("duplicate mirror",
			"rule_id", rule.ID, "source_event_id", m.marker.SourceEventID, "mirror_id", m.event.ID)
		if err := target.DeleteEvent(ctx, rule.TargetCalendarID, m.event.ID); err != nil {
			stats.Errors++
			appLog.Error("delete duplicate mirror failed", err, "rule_id", rule.ID, "mirror_id", m.event.ID)
			continue
		}
		stats.Deleted++
	}
	return existing, nil
}

// decide reports whether src should be mirrored in advanced mode.
func (r *Reconciler) decide(ctx context.Context, rule model.SyncRule, src model.Event, stats *RunStats) bool {
	d, err := r.decider.Decide(ctx, rule, src)
	if err != nil {
		stats.Errors++
		appLog.Error("sync decision failed", err, "rule_id", rule.ID, "source_event_id", src.ID)
		return false
	}
	appLog.Debug("sync decision", "rule_id", rule.ID, "source_event_id", src.ID, "decision", d.String())

	switch d {
	case DecisionSyncOnce:
		return true
	case DecisionAlwaysSync:
		if err := r.decider.RememberAlways(ctx, rule, src); err != nil {
			appLog.Warn("auto-sync rule not recorded", "rule_id", rule.ID, "source_event_id", src.ID, "err", err.Error())
		}
		return true
	default:
		return false
	}
}
