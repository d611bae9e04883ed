package model

import (
	"maps"
	"slices"
	"time"
)

// ProviderKind selects the adapter used to write into an account's calendars.
type ProviderKind string

const (
	// ProviderLocal writes straight into the calendar store.
	ProviderLocal ProviderKind = "local"
	// ProviderICS writes into the store and republishes the calendar as an
	// .ics file for subscription.
	ProviderICS ProviderKind = "ics"
)

// Account is a calendar account (one set of provider credentials).
type Account struct {
	ID       string
	UserID   string
	Name     string
	Email    string
	Provider ProviderKind
	// Config holds provider-specific settings (e.g. "publish_dir").
	Config  map[string]string
	Enabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Calendar belongs to exactly one account.
type Calendar struct {
	ID         string
	AccountID  string
	ProviderID string
	Name       string
	Color      string
	Timezone   string
	IsPrimary  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

type Visibility string

const (
	VisibilityDefault      Visibility = "default"
	VisibilityPublic       Visibility = "public"
	VisibilityPrivate      Visibility = "private"
	VisibilityConfidential Visibility = "confidential"
)

type Transparency string

const (
	TransparencyOpaque      Transparency = "opaque"
	TransparencyTransparent Transparency = "transparent"
)

// Participant is an event creator or organizer.
type Participant struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Attendee struct {
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	ResponseStatus string `json:"response_status,omitempty"`
	Optional       bool   `json:"optional,omitempty"`
}

type Attachment struct {
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// RecurrenceRule is the structured form of an RRULE as produced by the
// recurrence parser. Raw keeps the original rule text.
type RecurrenceRule struct {
	Raw      string     `json:"raw"`
	Freq     string     `json:"freq"`
	Interval int        `json:"interval,omitempty"`
	Count    int        `json:"count,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// Event is a calendar event as held in the calendar store.
type Event struct {
	ID         string
	CalendarID string
	AccountID  string
	// ProviderID is the upstream identifier; equal to ID for local events.
	ProviderID string
	UID        string

	Title       string
	Description string
	Location    string

	// Start / End carry the event's own location.
	Start    time.Time
	End      time.Time
	Timezone string
	AllDay   bool

	Status       EventStatus
	Visibility   Visibility
	Transparency Transparency
	Color        string

	Creator     *Participant
	Organizer   *Participant
	Attendees   []Attendee
	Attachments []Attachment

	// RawRRule is the unparsed RRULE of a recurring event, if any.
	RawRRule   string
	Recurrence *RecurrenceRule

	// ExtendedProperties is a free-form string bag that survives provider
	// round-trips. Privacy mirrors keep their marker here.
	ExtendedProperties map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EventDraft is the input for creating or patching an event through a
// provider adapter.
type EventDraft struct {
	CalendarID string
	UID        string

	Title       string
	Description string
	Location    string

	Start    time.Time
	End      time.Time
	Timezone string
	AllDay   bool

	Status       EventStatus
	Visibility   Visibility
	Transparency Transparency
	Color        string

	Attendees   []Attendee
	Attachments []Attachment
	Recurrence  *RecurrenceRule

	ExtendedProperties map[string]string
}

// ApplyTo copies every draft field onto ev, keeping ev's identity and
// CreatedAt. Creator and organizer are cleared: drafts never carry them.
func (d EventDraft) ApplyTo(ev *Event) {
	ev.CalendarID = d.CalendarID
	if d.UID != "" {
		ev.UID = d.UID
	}
	ev.Title = d.Title
	ev.Description = d.Description
	ev.Location = d.Location
	ev.Start = d.Start
	ev.End = d.End
	ev.Timezone = d.Timezone
	ev.AllDay = d.AllDay
	ev.Status = d.Status
	ev.Visibility = d.Visibility
	ev.Transparency = d.Transparency
	ev.Color = d.Color
	ev.Creator = nil
	ev.Organizer = nil
	ev.Attendees = slices.Clone(d.Attendees)
	ev.Attachments = slices.Clone(d.Attachments)
	ev.Recurrence = d.Recurrence
	if d.Recurrence != nil {
		ev.RawRRule = d.Recurrence.Raw
	} else {
		ev.RawRRule = ""
	}
	ev.ExtendedProperties = maps.Clone(d.ExtendedProperties)
}

// Matches reports whether ev already carries exactly what the draft would
// write, so an update would be a no-op.
func (d EventDraft) Matches(ev Event) bool {
	if ev.CalendarID != d.CalendarID ||
		ev.Title != d.Title ||
		ev.Description != d.Description ||
		ev.Location != d.Location ||
		!ev.Start.Equal(d.Start) ||
		!ev.End.Equal(d.End) ||
		ev.Timezone != d.Timezone ||
		ev.AllDay != d.AllDay ||
		ev.Status != d.Status ||
		ev.Visibility != d.Visibility ||
		ev.Transparency != d.Transparency ||
		ev.Color != d.Color {
		return false
	}
	if d.UID != "" && ev.UID != d.UID {
		return false
	}
	if ev.Creator != nil || ev.Organizer != nil {
		return false
	}
	if !slices.Equal(ev.Attendees, d.Attendees) || !slices.Equal(ev.Attachments, d.Attachments) {
		return false
	}
	if !sameRecurrence(ev.Recurrence, d.Recurrence) {
		return false
	}
	return maps.Equal(ev.ExtendedProperties, d.ExtendedProperties)
}

func sameRecurrence(a, b *RecurrenceRule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Raw == b.Raw
}
