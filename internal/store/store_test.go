package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "calmirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCalendar(t *testing.T, s *Store, id string) {
	t.Helper()
	ctx := context.Background()
	acct := &model.Account{ID: "acct-" + id, Name: id, Provider: model.ProviderLocal, Enabled: true}
	require.NoError(t, s.CreateAccount(ctx, acct))
	require.NoError(t, s.CreateCalendar(ctx, &model.Calendar{ID: id, AccountID: acct.ID, Name: id}))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calmirror.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestAccountsAndCalendars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acct := &model.Account{
		Name:     "publish",
		Provider: model.ProviderICS,
		Config:   map[string]string{"publish_path": "/tmp/busy.ics"},
		Enabled:  true,
	}
	require.NoError(t, s.CreateAccount(ctx, acct))
	require.NotEmpty(t, acct.ID)

	cal := &model.Calendar{AccountID: acct.ID, Name: "Busy"}
	require.NoError(t, s.CreateCalendar(ctx, cal))

	gotCal, err := s.GetCalendar(ctx, cal.ID)
	require.NoError(t, err)
	assert.Equal(t, "Busy", gotCal.Name)
	assert.Equal(t, "UTC", gotCal.Timezone)
	assert.Equal(t, cal.ID, gotCal.ProviderID)

	owner, err := s.GetCalendarAccount(ctx, cal.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, owner.ID)
	assert.Equal(t, model.ProviderICS, owner.Provider)
	assert.Equal(t, "/tmp/busy.ics", owner.Config["publish_path"])
	assert.True(t, owner.Enabled)

	_, err = s.GetCalendar(ctx, "missing")
	assert.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = s.GetCalendarAccount(ctx, "missing")
	assert.ErrorIs(t, err, appErr.ErrNotFound)

	cals, err := s.ListCalendars(ctx)
	require.NoError(t, err)
	assert.Len(t, cals, 1)
}

func TestEventLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedCalendar(t, s, "work")

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, berlin)

	ev := &model.Event{
		CalendarID: "work",
		UID:        "u1",
		Title:      "Review",
		Start:      start,
		End:        start.Add(45 * time.Minute),
		Timezone:   "Europe/Berlin",
		Attendees:  []model.Attendee{{Email: "ann@example.com"}},
		Organizer:  &model.Participant{Email: "boss@example.com"},
		Recurrence: &model.RecurrenceRule{Raw: "FREQ=DAILY", Freq: "DAILY", Interval: 1},
		RawRRule:   "FREQ=DAILY",
	}
	ev.ExtendedProperties = map[string]string{"privacy_sync_marker": "true"}
	require.NoError(t, s.CreateEvent(ctx, ev))
	require.NotEmpty(t, ev.ID)

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ProviderID)
	assert.True(t, got.Start.Equal(start))
	assert.Equal(t, 10, got.Start.Hour(), "start keeps the event's own zone")
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, model.TransparencyOpaque, got.Transparency)
	assert.Equal(t, ev.Attendees, got.Attendees)
	assert.Equal(t, "boss@example.com", got.Organizer.Email)
	assert.Equal(t, "DAILY", got.Recurrence.Freq)
	assert.Equal(t, "true", got.ExtendedProperties["privacy_sync_marker"])

	got.Title = "Busy"
	got.Organizer = nil
	require.NoError(t, s.UpdateEvent(ctx, got))

	again, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Busy", again.Title)
	assert.Nil(t, again.Organizer)

	require.NoError(t, s.DeleteEvent(ctx, ev.ID))
	assert.ErrorIs(t, s.DeleteEvent(ctx, ev.ID), appErr.ErrNotFound)
	assert.ErrorIs(t, s.UpdateEvent(ctx, got), appErr.ErrNotFound)
	_, err = s.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestEventQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedCalendar(t, s, "a")
	seedCalendar(t, s, "b")

	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	add := func(cal, uid string, startHours, lenHours int) {
		start := base.Add(time.Duration(startHours) * time.Hour)
		require.NoError(t, s.CreateEvent(ctx, &model.Event{
			CalendarID: cal,
			UID:        uid,
			Start:      start,
			End:        start.Add(time.Duration(lenHours) * time.Hour),
		}))
	}
	add("a", "early", -48, 1)
	add("a", "overlap", -1, 2)
	add("a", "inside", 5, 1)
	add("b", "other", 6, 1)
	add("b", "late", 100, 1)

	inRange, err := s.GetEventsInRange(ctx, []string{"a", "b"}, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"overlap", "inside", "other"}, uids(inRange))

	none, err := s.GetEventsInRange(ctx, nil, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.GetEventsByCalendar(ctx, "a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "overlap", "inside"}, uids(all))

	from := base
	bounded, err := s.GetEventsByCalendar(ctx, "a", &from, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"overlap", "inside"}, uids(bounded))
}

func TestUpsertEventKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedCalendar(t, s, "feed")

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return created }

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ev := &model.Event{ID: "fixed", CalendarID: "feed", Title: "v1", Start: start, End: start.Add(time.Hour)}
	require.NoError(t, s.UpsertEvent(ctx, ev))

	s.now = func() time.Time { return created.AddDate(0, 1, 0) }
	ev2 := &model.Event{ID: "fixed", CalendarID: "feed", Title: "v2", Start: start, End: start.Add(time.Hour)}
	require.NoError(t, s.UpsertEvent(ctx, ev2))

	got, err := s.GetEvent(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.After(created))
}

func TestSyncRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	vis := model.VisibilityPrivate
	r := &model.SyncRule{
		Name:              "work to personal",
		Enabled:           true,
		Active:            true,
		SourceCalendarID:  "work",
		SourceCalendarIDs: []string{"oncall"},
		TargetCalendarID:  "personal",
		Filters:           []string{"min_duration=15"},
		Privacy:           model.PrivacySettings{StripDescription: true, DefaultTitle: "Busy", Visibility: &vis},
		Window:            &model.SyncWindow{PastDays: 7, FutureDays: 30},
	}
	require.NoError(t, s.CreateSyncRule(ctx, r))
	require.NotEmpty(t, r.ID)

	disabled := &model.SyncRule{Name: "off", TargetCalendarID: "x"}
	require.NoError(t, s.CreateSyncRule(ctx, disabled))

	got, err := s.GetSyncRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.SourceCalendarIDs, got.SourceCalendarIDs)
	assert.Equal(t, r.Filters, got.Filters)
	assert.Equal(t, r.Privacy, got.Privacy)
	assert.Equal(t, r.Window, got.Window)
	assert.Nil(t, got.LastSyncAt)

	enabled, err := s.ListEnabledSyncRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, r.ID, enabled[0].ID)

	all, err := s.ListSyncRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	synced := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	got.LastSyncAt = &synced
	got.Metadata = map[string]any{"last_run": map[string]any{"status": "completed"}}
	require.NoError(t, s.UpdateSyncRule(ctx, got))

	after, err := s.GetSyncRule(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LastSyncAt)
	assert.True(t, after.LastSyncAt.Equal(synced))
	assert.Equal(t, "completed", after.Metadata["last_run"].(map[string]any)["status"])

	_, err = s.GetSyncRule(ctx, "missing")
	assert.ErrorIs(t, err, appErr.ErrNotFound)
	assert.ErrorIs(t, s.UpdateSyncRule(ctx, &model.SyncRule{ID: "missing"}), appErr.ErrNotFound)
}

func uids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.UID)
	}
	return out
}
