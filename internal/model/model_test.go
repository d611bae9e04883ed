package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSourceScopeOrdersAndDedups(t *testing.T) {
	r := SyncRule{
		SourceCalendarID:  "work",
		SourceCalendarIDs: []string{"team", "", "work", "oncall", "team"},
	}

	assert.Equal(t, []string{"work", "team", "oncall"}, r.SourceScope())
}

func TestSourceScopeWithoutPrimary(t *testing.T) {
	r := SyncRule{SourceCalendarIDs: []string{"a", "b"}}

	assert.Equal(t, []string{"a", "b"}, r.SourceScope())
}

func TestEffectiveWindowDefaults(t *testing.T) {
	assert.Equal(t, SyncWindow{PastDays: 30, FutureDays: 365}, SyncRule{}.EffectiveWindow())

	r := SyncRule{Window: &SyncWindow{PastDays: 1, FutureDays: 0}}
	assert.Equal(t, SyncWindow{PastDays: 1, FutureDays: 0}, r.EffectiveWindow())
}

func TestWindowBounds(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start, end := SyncWindow{PastDays: 2, FutureDays: 5}.Bounds(now)

	assert.Equal(t, time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC), end)
}

func TestDraftApplyToAndMatches(t *testing.T) {
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	draft := EventDraft{
		CalendarID:         "target",
		UID:                "privacy_r1_u1",
		Title:              "Busy",
		Start:              start,
		End:                start.Add(time.Hour),
		Timezone:           "UTC",
		Status:             StatusConfirmed,
		Visibility:         VisibilityDefault,
		Transparency:       TransparencyOpaque,
		ExtendedProperties: map[string]string{"k": "v"},
	}

	ev := Event{
		ID:        "e1",
		Title:     "old",
		Organizer: &Participant{Email: "boss@example.com"},
		CreatedAt: start,
	}
	assert.False(t, draft.Matches(ev))

	draft.ApplyTo(&ev)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, start, ev.CreatedAt)
	assert.Nil(t, ev.Organizer)
	assert.True(t, draft.Matches(ev))

	draft.Title = "Private"
	assert.False(t, draft.Matches(ev))
}
