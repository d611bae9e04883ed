package ics

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	instanceLayout = "20060102T150405Z"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	// Occurrences are concrete events; CalendarID and ID are left for the
	// caller to assign.
	Occurrences []model.Event
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences takes a list of ParsedEvent and expands them into
// concrete events within the given time range. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY, etc.)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//   - All-day semantics
//
// A recurring instance gets the UID "<uid>@<start in UTC>" so every instance
// has a stable identity of its own. Times keep the event's own location.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	// Deterministic output order regardless of map iteration.
	uids := slices.Sorted(maps.Keys(baseByUID))

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	slices.SortStableFunc(result.Occurrences, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.RawRRule == "" {
		if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []model.Event{makeOccurrence(ev, ev.Start, ev.End, ev.UID)}, false
	}

	return expandRecurringEvent(ev, overrides, cfg)
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	// Build a set so we can apply EXDATE.
	var set rrule.Set
	set.RRule(r)

	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by one duration so instances that started
	// before the window but still overlap it are kept.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.AddDate(0, 0, 1)
		} else {
			occEnd = occStart.Add(dur)
		}

		instanceUID := ev.UID + "@" + occStart.UTC().Format(instanceLayout)
		baseStart, baseEnd, baseEv := occStart, occEnd, ev

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseStart, baseEnd, baseEv = o.Start, o.End, o
		}
		if !timeRangesOverlap(baseStart, baseEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}

		// Occurrences are concrete; the series RRULE stays on the master.
		out = append(out, makeOccurrence(baseEv, baseStart, baseEnd, instanceUID))
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given instance start.
func findOverrideForStart(overrides []ParsedEvent, baseStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(baseStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, uid string) model.Event {
	tz := ev.TZID
	if tz == "" {
		tz = start.Location().String()
	}
	return model.Event{
		ProviderID:         ev.UID,
		UID:                uid,
		Title:              ev.Summary,
		Description:        ev.Description,
		Location:           ev.Location,
		Start:              start,
		End:                end,
		Timezone:           tz,
		AllDay:             ev.AllDay,
		Status:             ev.Status,
		Visibility:         ev.Visibility,
		Transparency:       ev.Transparency,
		Color:              ev.Color,
		Attendees:          slices.Clone(ev.Attendees),
		ExtendedProperties: maps.Clone(ev.Extended),
	}
}

// timeRangesOverlap reports whether [aStart, aEnd) and [bStart, bEnd]
// intersect. Zero-length events count when they start inside b.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Equal(aStart) {
		return !aStart.Before(bStart) && !aStart.After(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
