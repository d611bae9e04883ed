package ics

import (
	"maps"
	"slices"
	"strings"

	ical "github.com/arran4/golang-ical"

	"calmirror/internal/model"
)

const productID = "-//calmirror//privacy sync//EN"

// EncodeCalendar renders events as a VCALENDAR suitable for subscription.
// Extended properties become X- properties (privacy_sync_rule_id ->
// X-PRIVACY-SYNC-RULE-ID) so ParseICS restores them.
func EncodeCalendar(name string, events []model.Event) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		uid := ev.UID
		if uid == "" {
			uid = ev.ID
		}
		ve := cal.AddEvent(uid)

		stamp := ev.UpdatedAt
		if stamp.IsZero() {
			stamp = ev.Start
		}
		ve.SetDtStampTime(stamp)

		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}

		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Color != "" {
			ve.SetProperty("COLOR", ev.Color)
		}
		if ev.Status != "" {
			ve.SetProperty("STATUS", strings.ToUpper(string(ev.Status)))
		}
		if ev.Transparency != "" {
			ve.SetProperty("TRANSP", strings.ToUpper(string(ev.Transparency)))
		}
		if ev.Visibility != "" && ev.Visibility != model.VisibilityDefault {
			ve.SetProperty("CLASS", strings.ToUpper(string(ev.Visibility)))
		}
		if ev.RawRRule != "" {
			ve.AddProperty(ical.ComponentPropertyRrule, ev.RawRRule)
		}

		for _, a := range ev.Attendees {
			var params []ical.PropertyParameter
			if a.Name != "" {
				params = append(params, &ical.KeyValues{Key: "CN", Value: []string{a.Name}})
			}
			if a.ResponseStatus != "" {
				params = append(params, &ical.KeyValues{Key: "PARTSTAT", Value: []string{strings.ToUpper(a.ResponseStatus)}})
			}
			ve.AddProperty("ATTENDEE", "mailto:"+a.Email, params...)
		}
		for _, att := range ev.Attachments {
			var params []ical.PropertyParameter
			if att.MimeType != "" {
				params = append(params, &ical.KeyValues{Key: "FMTTYPE", Value: []string{att.MimeType}})
			}
			ve.AddProperty("ATTACH", att.URL, params...)
		}

		// Sorted for stable output.
		for _, key := range slices.Sorted(maps.Keys(ev.ExtendedProperties)) {
			ve.SetProperty(extendedProperty(key), ev.ExtendedProperties[key])
		}
	}

	return []byte(cal.Serialize())
}
