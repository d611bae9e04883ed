package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

const eventColumns = `id, calendar_id, account_id, provider_id, uid, title, description, location,
	start_ms, end_ms, timezone, all_day, status, visibility, transparency, color,
	creator, organizer, attendees, attachments, rrule, recurrence, extended_properties,
	created_at, updated_at`

// eventRow is the column-encoded form of a model.Event.
type eventRow struct {
	creator, organizer, attendees, attachments, recurrence, extended sql.NullString
}

func encodeEvent(ev *model.Event) (eventRow, error) {
	var (
		r   eventRow
		err error
	)
	if r.creator, err = encodeJSON("event creator", ev.Creator, ev.Creator == nil); err != nil {
		return r, err
	}
	if r.organizer, err = encodeJSON("event organizer", ev.Organizer, ev.Organizer == nil); err != nil {
		return r, err
	}
	if r.attendees, err = encodeJSON("event attendees", ev.Attendees, len(ev.Attendees) == 0); err != nil {
		return r, err
	}
	if r.attachments, err = encodeJSON("event attachments", ev.Attachments, len(ev.Attachments) == 0); err != nil {
		return r, err
	}
	if r.recurrence, err = encodeJSON("event recurrence", ev.Recurrence, ev.Recurrence == nil); err != nil {
		return r, err
	}
	if r.extended, err = encodeJSON("extended properties", ev.ExtendedProperties, len(ev.ExtendedProperties) == 0); err != nil {
		return r, err
	}
	return r, nil
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var (
		ev                   model.Event
		r                    eventRow
		startMs, endMs       int64
		allDay               int
		status, vis, transp  string
		createdMs, updatedMs int64
	)
	if err := row.Scan(&ev.ID, &ev.CalendarID, &ev.AccountID, &ev.ProviderID, &ev.UID,
		&ev.Title, &ev.Description, &ev.Location,
		&startMs, &endMs, &ev.Timezone, &allDay, &status, &vis, &transp, &ev.Color,
		&r.creator, &r.organizer, &r.attendees, &r.attachments, &ev.RawRRule, &r.recurrence, &r.extended,
		&createdMs, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, appErr.NewStoreError("scan event", err)
	}

	loc := loadLocation(ev.Timezone)
	ev.Start = fromMillis(startMs, loc)
	ev.End = fromMillis(endMs, loc)
	ev.AllDay = allDay == 1
	ev.Status = model.EventStatus(status)
	ev.Visibility = model.Visibility(vis)
	ev.Transparency = model.Transparency(transp)
	ev.CreatedAt = fromMillis(createdMs, time.UTC)
	ev.UpdatedAt = fromMillis(updatedMs, time.UTC)

	if err := decodeJSON("event creator", r.creator, &ev.Creator); err != nil {
		return nil, err
	}
	if err := decodeJSON("event organizer", r.organizer, &ev.Organizer); err != nil {
		return nil, err
	}
	if err := decodeJSON("event attendees", r.attendees, &ev.Attendees); err != nil {
		return nil, err
	}
	if err := decodeJSON("event attachments", r.attachments, &ev.Attachments); err != nil {
		return nil, err
	}
	if err := decodeJSON("event recurrence", r.recurrence, &ev.Recurrence); err != nil {
		return nil, err
	}
	if err := decodeJSON("extended properties", r.extended, &ev.ExtendedProperties); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) queryEvents(ctx context.Context, op, where string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE "+where+" ORDER BY start_ms, id", args...)
	if err != nil {
		return nil, appErr.NewStoreError(op, err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.NewStoreError(op, err)
	}
	return out, nil
}

// GetEvent returns the event with the given id.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.NewNotFoundError("event", id, err)
	}
	return ev, err
}

// GetEventsInRange returns the events of the given calendars that overlap
// [start, end), ordered by start.
func (s *Store) GetEventsInRange(ctx context.Context, calendarIDs []string, start, end time.Time) ([]model.Event, error) {
	if len(calendarIDs) == 0 {
		return []model.Event{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(calendarIDs)), ",")
	args := make([]any, 0, len(calendarIDs)+2)
	for _, id := range calendarIDs {
		args = append(args, id)
	}
	args = append(args, toMillis(end), toMillis(start))

	return s.queryEvents(ctx, "query events in range",
		"calendar_id IN ("+placeholders+") AND start_ms < ? AND end_ms > ?", args...)
}

// GetEventsByCalendar returns the events of one calendar. Nil bounds leave
// that side open, so (id, nil, nil) is a full scan.
func (s *Store) GetEventsByCalendar(ctx context.Context, calendarID string, start, end *time.Time) ([]model.Event, error) {
	where := "calendar_id = ?"
	args := []any{calendarID}
	if end != nil {
		where += " AND start_ms < ?"
		args = append(args, toMillis(*end))
	}
	if start != nil {
		where += " AND end_ms > ?"
		args = append(args, toMillis(*start))
	}
	return s.queryEvents(ctx, "query calendar events", where, args...)
}

// CreateEvent inserts ev, assigning an id when it has none.
func (s *Store) CreateEvent(ctx context.Context, ev *model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ProviderID == "" {
		ev.ProviderID = ev.ID
	}
	fillEventDefaults(ev)
	now := s.now().UTC()
	ev.CreatedAt, ev.UpdatedAt = now, now

	r, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CalendarID, ev.AccountID, ev.ProviderID, ev.UID, ev.Title, ev.Description, ev.Location,
		toMillis(ev.Start), toMillis(ev.End), ev.Timezone, boolToInt(ev.AllDay),
		string(ev.Status), string(ev.Visibility), string(ev.Transparency), ev.Color,
		r.creator, r.organizer, r.attendees, r.attachments, ev.RawRRule, r.recurrence, r.extended,
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return appErr.NewStoreError("insert event", err)
	}
	return nil
}

// UpdateEvent overwrites the stored event with ev. The event must exist.
func (s *Store) UpdateEvent(ctx context.Context, ev *model.Event) error {
	fillEventDefaults(ev)
	ev.UpdatedAt = s.now().UTC()

	r, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET
			calendar_id = ?, account_id = ?, provider_id = ?, uid = ?, title = ?, description = ?, location = ?,
			start_ms = ?, end_ms = ?, timezone = ?, all_day = ?, status = ?, visibility = ?, transparency = ?, color = ?,
			creator = ?, organizer = ?, attendees = ?, attachments = ?, rrule = ?, recurrence = ?, extended_properties = ?,
			updated_at = ?
		WHERE id = ?`,
		ev.CalendarID, ev.AccountID, ev.ProviderID, ev.UID, ev.Title, ev.Description, ev.Location,
		toMillis(ev.Start), toMillis(ev.End), ev.Timezone, boolToInt(ev.AllDay),
		string(ev.Status), string(ev.Visibility), string(ev.Transparency), ev.Color,
		r.creator, r.organizer, r.attendees, r.attachments, ev.RawRRule, r.recurrence, r.extended,
		toMillis(ev.UpdatedAt), ev.ID,
	)
	if err != nil {
		return appErr.NewStoreError("update event", err)
	}
	return requireAffected(res, "event", ev.ID)
}

// UpsertEvent inserts ev or overwrites the row with the same id, keeping
// the original creation time.
func (s *Store) UpsertEvent(ctx context.Context, ev *model.Event) error {
	if ev.ID == "" {
		return s.CreateEvent(ctx, ev)
	}
	if ev.ProviderID == "" {
		ev.ProviderID = ev.ID
	}
	fillEventDefaults(ev)
	now := s.now().UTC()
	ev.UpdatedAt = now
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	r, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calendar_id = excluded.calendar_id, account_id = excluded.account_id,
			provider_id = excluded.provider_id, uid = excluded.uid, title = excluded.title,
			description = excluded.description, location = excluded.location,
			start_ms = excluded.start_ms, end_ms = excluded.end_ms, timezone = excluded.timezone,
			all_day = excluded.all_day, status = excluded.status, visibility = excluded.visibility,
			transparency = excluded.transparency, color = excluded.color,
			creator = excluded.creator, organizer = excluded.organizer,
			attendees = excluded.attendees, attachments = excluded.attachments,
			rrule = excluded.rrule, recurrence = excluded.recurrence,
			extended_properties = excluded.extended_properties,
			updated_at = excluded.updated_at`,
		ev.ID, ev.CalendarID, ev.AccountID, ev.ProviderID, ev.UID, ev.Title, ev.Description, ev.Location,
		toMillis(ev.Start), toMillis(ev.End), ev.Timezone, boolToInt(ev.AllDay),
		string(ev.Status), string(ev.Visibility), string(ev.Transparency), ev.Color,
		r.creator, r.organizer, r.attendees, r.attachments, ev.RawRRule, r.recurrence, r.extended,
		toMillis(ev.CreatedAt), toMillis(now),
	)
	if err != nil {
		return appErr.NewStoreError("upsert event", err)
	}
	return nil
}

// DeleteEvent removes the event with the given id. A missing event is a
// NotFound error.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return appErr.NewStoreError("delete event", err)
	}
	return requireAffected(res, "event", id)
}

func fillEventDefaults(ev *model.Event) {
	if ev.Status == "" {
		ev.Status = model.StatusConfirmed
	}
	if ev.Visibility == "" {
		ev.Visibility = model.VisibilityDefault
	}
	if ev.Transparency == "" {
		ev.Transparency = model.TransparencyOpaque
	}
	if ev.Timezone == "" {
		ev.Timezone = ev.Start.Location().String()
	}
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return appErr.NewStoreError("rows affected", err)
	}
	if n == 0 {
		return appErr.NewNotFoundError(kind, id, nil)
	}
	return nil
}
