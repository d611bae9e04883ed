package privacysync

import (
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

const (
	lockGlyph       = "🔒"
	workspaceLabel  = "Work"
	freeBusyLabel   = "busy"
	fallbackTitle   = "Private"
	mirrorUIDPrefix = "privacy_"
)

// Projector turns a source event into the draft of its busy-block mirror.
type Projector struct {
	// DefaultTitle is used when a rule has neither a template nor a title.
	DefaultTitle string
	// Recurrence, if set, copies a recurring source's rule onto the mirror.
	Recurrence RecurrenceParser
}

// Project builds the mirror draft of src for rule.
func (p Projector) Project(src model.Event, rule model.SyncRule) model.EventDraft {
	ps := rule.Privacy

	draft := model.EventDraft{
		CalendarID:   rule.TargetCalendarID,
		UID:          MirrorUID(rule.ID, src),
		Title:        p.Title(src, ps),
		Start:        src.Start,
		End:          src.End,
		Timezone:     src.Timezone,
		AllDay:       src.AllDay,
		Status:       model.StatusConfirmed,
		Visibility:   model.VisibilityDefault,
		Transparency: model.TransparencyOpaque,
		Color:        src.Color,
		ExtendedProperties: Marker{
			RuleID:           rule.ID,
			SourceEventID:    src.ID,
			SourceCalendarID: src.CalendarID,
		}.Properties(),
	}
	if ps.Visibility != nil {
		draft.Visibility = *ps.Visibility
	}

	busyOnly := ps.ShowBusyOnly
	if !ps.StripDescription && !busyOnly {
		draft.Description = src.Description
	}
	if !ps.StripLocation && !busyOnly {
		draft.Location = src.Location
	}
	if !ps.StripAttendees && !busyOnly {
		draft.Attendees = slices.Clone(src.Attendees)
	}
	if !ps.StripAttachments && !busyOnly {
		draft.Attachments = slices.Clone(src.Attachments)
	}
	if busyOnly {
		draft.Color = ""
	}

	if src.RawRRule != "" && p.Recurrence != nil {
		rr, err := p.Recurrence.ParseRRule(src.RawRRule)
		if err != nil {
			appLog.Warn("mirror without recurrence: rrule did not parse",
				"rule_id", rule.ID, "source_event_id", src.ID, "rrule", src.RawRRule, "err", err.Error())
		} else {
			draft.Recurrence = rr
		}
	}

	return draft
}

// Title renders the mirror title: the template with its tokens replaced,
// else the rule's default title, else the engine default.
func (p Projector) Title(src model.Event, ps model.PrivacySettings) string {
	if ps.TitleTemplate != "" {
		return RenderTitle(ps.TitleTemplate, src.Duration())
	}
	if ps.DefaultTitle != "" {
		return ps.DefaultTitle
	}
	if p.DefaultTitle != "" {
		return p.DefaultTitle
	}
	return fallbackTitle
}

// RenderTitle substitutes {{duration}}, {{free_busy}}, {{emoji}} and
// {{workspace}} in tmpl.
func RenderTitle(tmpl string, d time.Duration) string {
	r := strings.NewReplacer(
		"{{duration}}", fmt.Sprintf("%d min", int(d/time.Minute)),
		"{{free_busy}}", freeBusyLabel,
		"{{emoji}}", lockGlyph,
		"{{workspace}}", workspaceLabel,
	)
	return r.Replace(tmpl)
}

// MirrorUID is the deterministic UID of the mirror of src under ruleID.
func MirrorUID(ruleID string, src model.Event) string {
	key := src.UID
	if key == "" {
		key = src.ID
	}
	return mirrorUIDPrefix + ruleID + "_" + key
}
