package model

import "time"

const (
	// DefaultPastDays / DefaultFutureDays apply when a rule has no window.
	DefaultPastDays   = 30
	DefaultFutureDays = 365
)

// SyncWindow bounds the source events a rule considers, relative to now.
type SyncWindow struct {
	PastDays   int `yaml:"past_days" json:"past_days"`
	FutureDays int `yaml:"future_days" json:"future_days"`
}

// PrivacySettings controls what a mirror keeps from its source event.
type PrivacySettings struct {
	StripDescription bool   `yaml:"strip_description" json:"strip_description"`
	StripLocation    bool   `yaml:"strip_location" json:"strip_location"`
	StripAttendees   bool   `yaml:"strip_attendees" json:"strip_attendees"`
	StripAttachments bool   `yaml:"strip_attachments" json:"strip_attachments"`
	ShowBusyOnly     bool   `yaml:"show_busy_only" json:"show_busy_only"`
	DefaultTitle     string `yaml:"default_title" json:"default_title"`
	// TitleTemplate may use {{duration}}, {{free_busy}}, {{emoji}} and
	// {{workspace}}.
	TitleTemplate string      `yaml:"title_template,omitempty" json:"title_template,omitempty"`
	Visibility    *Visibility `yaml:"visibility,omitempty" json:"visibility,omitempty"`
}

// SyncRule mirrors one or more source calendars into a target calendar.
type SyncRule struct {
	ID     string `yaml:"id,omitempty" json:"id"`
	UserID string `yaml:"user_id,omitempty" json:"user_id,omitempty"`
	Name   string `yaml:"name" json:"name"`

	Enabled bool `yaml:"enabled" json:"enabled"`
	// Active is the administrative pause switch; an inactive rule is
	// loaded but not run.
	Active bool `yaml:"active" json:"active"`

	SourceCalendarID  string   `yaml:"source_calendar_id" json:"source_calendar_id"`
	SourceCalendarIDs []string `yaml:"source_calendar_ids,omitempty" json:"source_calendar_ids,omitempty"`
	TargetCalendarID  string   `yaml:"target_calendar_id" json:"target_calendar_id"`

	// Filters are raw filter expressions, e.g. "min_duration=15".
	Filters      []string        `yaml:"filters,omitempty" json:"filters,omitempty"`
	AdvancedMode bool            `yaml:"advanced_mode" json:"advanced_mode"`
	Privacy      PrivacySettings `yaml:"privacy" json:"privacy"`
	Window       *SyncWindow     `yaml:"window,omitempty" json:"window,omitempty"`

	LastSyncAt *time.Time `yaml:"-" json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `yaml:"-" json:"created_at"`
	UpdatedAt  time.Time  `yaml:"-" json:"updated_at"`

	// Metadata holds free-form data; the engine keeps the last run's
	// snapshot under "last_run".
	Metadata map[string]any `yaml:"-" json:"metadata,omitempty"`
}

// SourceScope returns every source calendar id of the rule: the primary id
// first, then the additional ids, without blanks or duplicates.
func (r SyncRule) SourceScope() []string {
	seen := make(map[string]struct{}, len(r.SourceCalendarIDs)+1)
	out := make([]string, 0, len(r.SourceCalendarIDs)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(r.SourceCalendarID)
	for _, id := range r.SourceCalendarIDs {
		add(id)
	}
	return out
}

// EffectiveWindow returns the rule's window, or the 30/365 default.
func (r SyncRule) EffectiveWindow() SyncWindow {
	if r.Window == nil {
		return SyncWindow{PastDays: DefaultPastDays, FutureDays: DefaultFutureDays}
	}
	return *r.Window
}

// Bounds returns [now - past, now + future].
func (w SyncWindow) Bounds(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -w.PastDays), now.AddDate(0, 0, w.FutureDays)
}
