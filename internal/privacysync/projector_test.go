package privacysync

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/ics"
	"calmirror/internal/model"
)

func TestRenderTitle(t *testing.T) {
	tests := []struct {
		tmpl string
		d    time.Duration
		want string
	}{
		{"{{duration}} - {{free_busy}}", 30 * time.Minute, "30 min - busy"},
		{"{{emoji}} {{workspace}}", time.Hour, "🔒 Work"},
		{"{{duration}}", 90*time.Minute + 59*time.Second, "90 min"},
		{"plain", time.Hour, "plain"},
		{"{{unknown}}", time.Hour, "{{unknown}}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenderTitle(tt.tmpl, tt.d), tt.tmpl)
	}
}

func TestProjectorTitleFallbacks(t *testing.T) {
	src := sourceEvent("e1", "work", testNow, 30*time.Minute)
	p := Projector{DefaultTitle: "Engine default"}

	assert.Equal(t, "30 min - busy", p.Title(src, model.PrivacySettings{TitleTemplate: "{{duration}} - {{free_busy}}", DefaultTitle: "x"}))
	assert.Equal(t, "Rule title", p.Title(src, model.PrivacySettings{DefaultTitle: "Rule title"}))
	assert.Equal(t, "Engine default", p.Title(src, model.PrivacySettings{}))
	assert.Equal(t, "Private", Projector{}.Title(src, model.PrivacySettings{}))
}

func TestProjectStripsDetails(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	src := sourceEvent("e1", "work", time.Date(2026, 6, 1, 9, 30, 0, 0, berlin), 45*time.Minute)
	src.Timezone = "Europe/Berlin"
	src.Color = "red"
	src.Attachments = []model.Attachment{{URL: "https://example.com/agenda.pdf"}}
	src.Creator = &model.Participant{Email: "me@example.com"}

	rule := baseRule("r1")
	d := Projector{}.Project(src, rule)

	assert.Equal(t, "personal", d.CalendarID)
	assert.True(t, d.Start.Equal(src.Start))
	assert.True(t, d.End.Equal(src.End))
	assert.Equal(t, "Europe/Berlin", d.Timezone)
	assert.Empty(t, d.Description)
	assert.Empty(t, d.Location)
	assert.Empty(t, d.Attendees)
	assert.Equal(t, src.Attachments, d.Attachments)
	assert.Equal(t, "red", d.Color)
	assert.Equal(t, model.StatusConfirmed, d.Status)
	assert.Equal(t, model.TransparencyOpaque, d.Transparency)
	assert.Equal(t, model.VisibilityDefault, d.Visibility)
	assert.Equal(t, "privacy_r1_e1@example.com", d.UID)
	assert.Equal(t, map[string]string{
		KeyRuleID:           "r1",
		KeySourceEventID:    "e1",
		KeySourceCalendarID: "work",
		KeyMarker:           "true",
	}, d.ExtendedProperties)

	ev := model.Event{ID: "m1", Creator: src.Creator, Organizer: src.Organizer}
	d.ApplyTo(&ev)
	assert.Nil(t, ev.Creator)
	assert.Nil(t, ev.Organizer)
}

func TestProjectKeepsDetailsWhenNotStripped(t *testing.T) {
	src := sourceEvent("e1", "work", testNow, time.Hour)
	private := model.VisibilityPrivate
	rule := baseRule("r1")
	rule.Privacy = model.PrivacySettings{Visibility: &private}

	d := Projector{}.Project(src, rule)
	assert.Equal(t, src.Description, d.Description)
	assert.Equal(t, src.Location, d.Location)
	assert.Equal(t, src.Attendees, d.Attendees)
	assert.Equal(t, model.VisibilityPrivate, d.Visibility)
}

func TestProjectBusyOnly(t *testing.T) {
	src := sourceEvent("e1", "work", testNow, time.Hour)
	src.Color = "red"
	rule := baseRule("r1")
	rule.Privacy = model.PrivacySettings{ShowBusyOnly: true}

	d := Projector{}.Project(src, rule)
	assert.Empty(t, d.Description)
	assert.Empty(t, d.Location)
	assert.Empty(t, d.Attendees)
	assert.Empty(t, d.Color)
}

func TestMirrorUIDFallsBackToID(t *testing.T) {
	src := model.Event{ID: "evt-9"}
	assert.Equal(t, "privacy_r1_evt-9", MirrorUID("r1", src))
}

type stubRecurrence struct {
	rule *model.RecurrenceRule
	err  error
}

func (s stubRecurrence) ParseRRule(string) (*model.RecurrenceRule, error) {
	return s.rule, s.err
}

func TestProjectRecurrence(t *testing.T) {
	src := sourceEvent("e1", "work", testNow, time.Hour)
	src.RawRRule = "FREQ=WEEKLY;COUNT=4"
	rule := baseRule("r1")

	parsed := &model.RecurrenceRule{Raw: src.RawRRule, Freq: "WEEKLY", Count: 4}
	d := Projector{Recurrence: stubRecurrence{rule: parsed}}.Project(src, rule)
	assert.Equal(t, parsed, d.Recurrence)

	d = Projector{Recurrence: stubRecurrence{err: errors.New("bad rule")}}.Project(src, rule)
	assert.Nil(t, d.Recurrence)

	d = Projector{}.Project(src, rule)
	assert.Nil(t, d.Recurrence)
}

func expandFeed(t *testing.T, body []byte) []model.Event {
	t.Helper()
	parsed, err := ics.ParseICS(ics.Source{ID: "feed"}, body)
	require.NoError(t, err)
	res, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		RangeStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return res.Occurrences
}

func TestImportedInstancesPublishOneBlockEach(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260105T100000Z",
		"DTEND:20260105T103000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	instances := expandFeed(t, []byte(feed))
	require.Len(t, instances, 3)

	rule := baseRule("r1")
	p := Projector{Recurrence: ics.RecurrenceParser{}}
	mirrors := make([]model.Event, 0, len(instances))
	for i, src := range instances {
		src.ID = fmt.Sprintf("src-%d", i)
		src.CalendarID = rule.SourceCalendarID

		d := p.Project(src, rule)
		assert.Nil(t, d.Recurrence, src.UID)

		mirror := model.Event{ID: fmt.Sprintf("mirror-%d", i)}
		d.ApplyTo(&mirror)
		mirrors = append(mirrors, mirror)
	}

	published := expandFeed(t, ics.EncodeCalendar("personal", mirrors))
	require.Len(t, published, len(instances))
	for i := range instances {
		assert.True(t, published[i].Start.Equal(instances[i].Start), "block %d", i)
		assert.True(t, published[i].End.Equal(instances[i].End), "block %d", i)
	}
}
