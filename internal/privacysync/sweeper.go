package privacysync

import (
	"context"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// Sweeper removes mirrors whose source event no longer exists. It runs
// after reconciliation and may repeat deletions the reconciler already made.
type Sweeper struct {
	store Store
}

func NewSweeper(store Store) *Sweeper {
	return &Sweeper{store: store}
}

// Sweep re-fetches the unfiltered source events of rule in [start, end) and
// deletes every mirror of rule whose source id is not among them.
func (s *Sweeper) Sweep(ctx context.Context, rule model.SyncRule, start, end time.Time, target Provider) (RunStats, error) {
	var stats RunStats

	sources, err := s.store.GetEventsInRange(ctx, rule.SourceScope(), start, end)
	if err != nil {
		return stats, err
	}
	live := make(map[string]struct{}, len(sources))
	for _, ev := range sources {
		live[ev.ID] = struct{}{}
	}

	events, err := s.store.GetEventsByCalendar(ctx, rule.TargetCalendarID, nil, nil)
	if err != nil {
		return stats, err
	}
	for _, m := range mirrorsOf(rule.ID, events) {
		if _, ok := live[m.marker.SourceEventID]; ok {
			continue
		}
		if err := target.DeleteEvent(ctx, rule.TargetCalendarID, m.event.ID); err != nil {
			stats.Errors++
			appLog.Error("delete orphan mirror failed", err,
				"rule_id", rule.ID, "source_event_id", m.marker.SourceEventID, "mirror_id", m.event.ID)
			continue
		}
		stats.Deleted++
		appLog.Debug("orphan mirror deleted", "rule_id", rule.ID, "mirror_id", m.event.ID)
	}
	return stats, nil
}
