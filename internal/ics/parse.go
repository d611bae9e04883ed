package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appErr "calmirror/internal/errors"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Color       string

	Status       model.EventStatus
	Visibility   model.Visibility
	Transparency model.Transparency
	Attendees    []model.Attendee

	Start  time.Time
	End    time.Time
	AllDay bool
	TZID   string

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance

	// Extended holds X- properties, keyed the way model.Event stores them.
	Extended map[string]string
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, appErr.NewSerializationError("ics body", errors.New("empty"))
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, appErr.NewSerializationError("ics calendar", err)
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "id", src.ID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{
		Source:       src,
		Status:       model.StatusConfirmed,
		Visibility:   model.VisibilityDefault,
		Transparency: model.TransparencyOpaque,
	}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Color = propValue(ve, "COLOR")

	switch strings.ToUpper(propValue(ve, "STATUS")) {
	case "TENTATIVE":
		out.Status = model.StatusTentative
	case "CANCELLED":
		out.Status = model.StatusCancelled
	}
	switch strings.ToUpper(propValue(ve, "CLASS")) {
	case "PUBLIC":
		out.Visibility = model.VisibilityPublic
	case "PRIVATE":
		out.Visibility = model.VisibilityPrivate
	case "CONFIDENTIAL":
		out.Visibility = model.VisibilityConfidential
	}
	if strings.EqualFold(propValue(ve, "TRANSP"), "TRANSPARENT") {
		out.Transparency = model.TransparencyTransparent
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// DTEND is optional; a date-only start then lasts one day, a
		// date-time start has zero length.
		end = start
	}

	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if vs := dtStartProp.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
		if tzs := dtStartProp.ICalParameters["TZID"]; len(tzs) > 0 {
			out.TZID = tzs[0]
		} else if strings.HasSuffix(dtStartProp.Value, "Z") {
			out.TZID = "UTC"
		}
	}
	if out.AllDay && !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	out.Start = start
	out.End = end

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := locationFor(p.ICalParameters, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		loc := locationFor(ridProp.ICalParameters, start.Location())
		if t, err := parseICSTime(ridProp.Value, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	for _, p := range ve.GetProperties("ATTENDEE") {
		out.Attendees = append(out.Attendees, parseAttendee(p.Value, p.ICalParameters))
	}

	for _, p := range ve.Properties {
		key, ok := extendedKey(p.IANAToken)
		if !ok {
			continue
		}
		if out.Extended == nil {
			out.Extended = make(map[string]string)
		}
		out.Extended[key] = p.Value
	}

	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func parseAttendee(value string, params map[string][]string) model.Attendee {
	a := model.Attendee{Email: strings.TrimPrefix(strings.TrimPrefix(value, "mailto:"), "MAILTO:")}
	if v := params["CN"]; len(v) > 0 {
		a.Name = v[0]
	}
	if v := params["PARTSTAT"]; len(v) > 0 {
		a.ResponseStatus = strings.ToLower(v[0])
	}
	if v := params["ROLE"]; len(v) > 0 && strings.EqualFold(v[0], "OPT-PARTICIPANT") {
		a.Optional = true
	}
	return a
}

// locationFor resolves a TZID parameter, falling back to def.
func locationFor(params map[string][]string, def *time.Location) *time.Location {
	if tzs := params["TZID"]; len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Floating values are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}

// extendedKey maps an ICS X- property name to its extended-property key:
// X-PRIVACY-SYNC-RULE-ID -> privacy_sync_rule_id.
func extendedKey(token string) (string, bool) {
	upper := strings.ToUpper(token)
	if !strings.HasPrefix(upper, "X-") || len(upper) == 2 {
		return "", false
	}
	return strings.ToLower(strings.ReplaceAll(upper[2:], "-", "_")), true
}

// extendedProperty is the inverse of extendedKey.
func extendedProperty(key string) ical.ComponentProperty {
	return ical.ComponentProperty("X-" + strings.ToUpper(strings.ReplaceAll(key, "_", "-")))
}
