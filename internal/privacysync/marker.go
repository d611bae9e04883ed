package privacysync

import (
	"calmirror/internal/model"
)

// Extended-property keys carried by every mirror. The marker is the only
// link between a mirror and its source event.
const (
	KeyRuleID           = "privacy_sync_rule_id"
	KeySourceEventID    = "privacy_sync_source_event_id"
	KeySourceCalendarID = "privacy_sync_source_calendar_id"
	KeyMarker           = "privacy_sync_marker"

	markerValue = "true"
)

// Marker identifies the rule and source event a mirror was made from.
type Marker struct {
	RuleID           string `json:"rule_id"`
	SourceEventID    string `json:"source_event_id"`
	SourceCalendarID string `json:"source_calendar_id"`
}

// Properties returns the marker as extended properties.
func (m Marker) Properties() map[string]string {
	return map[string]string{
		KeyRuleID:           m.RuleID,
		KeySourceEventID:    m.SourceEventID,
		KeySourceCalendarID: m.SourceCalendarID,
		KeyMarker:           markerValue,
	}
}

// ReadMarker extracts the marker of a mirror. Events without the marker
// flag, rule id or source event id are not mirrors.
func ReadMarker(ev model.Event) (Marker, bool) {
	props := ev.ExtendedProperties
	if props[KeyMarker] != markerValue {
		return Marker{}, false
	}
	m := Marker{
		RuleID:           props[KeyRuleID],
		SourceEventID:    props[KeySourceEventID],
		SourceCalendarID: props[KeySourceCalendarID],
	}
	if m.RuleID == "" || m.SourceEventID == "" {
		return Marker{}, false
	}
	return m, true
}

// mirrorsOf keeps the events in target that are mirrors made by ruleID, in
// scan order.
func mirrorsOf(ruleID string, target []model.Event) []mirror {
	out := make([]mirror, 0)
	for _, ev := range target {
		m, ok := ReadMarker(ev)
		if !ok || m.RuleID != ruleID {
			continue
		}
		out = append(out, mirror{event: ev, marker: m})
	}
	return out
}

type mirror struct {
	event  model.Event
	marker Marker
}
