package privacysync

import (
	"context"
	"fmt"
	"slices"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

// MaxWindowDays caps either side of a sync window.
const MaxWindowDays = 3650

// Limits bounds rule windows below MaxWindowDays. Zero means MaxWindowDays.
type Limits struct {
	MaxPastDays   int
	MaxFutureDays int
}

func (l Limits) past() int {
	if l.MaxPastDays <= 0 || l.MaxPastDays > MaxWindowDays {
		return MaxWindowDays
	}
	return l.MaxPastDays
}

func (l Limits) future() int {
	if l.MaxFutureDays <= 0 || l.MaxFutureDays > MaxWindowDays {
		return MaxWindowDays
	}
	return l.MaxFutureDays
}

// ValidateWindow checks an optional window against limits. Both sides zero
// is an empty window and invalid.
func ValidateWindow(w *model.SyncWindow, limits Limits) error {
	if w == nil {
		return nil
	}
	if w.PastDays < 0 || w.FutureDays < 0 {
		return appErr.NewValidationError("window", "days must not be negative")
	}
	if w.PastDays == 0 && w.FutureDays == 0 {
		return appErr.NewValidationError("window", "past_days and future_days are both zero")
	}
	if w.PastDays > limits.past() {
		return appErr.NewValidationError("window", fmt.Sprintf("past_days %d exceeds %d", w.PastDays, limits.past()))
	}
	if w.FutureDays > limits.future() {
		return appErr.NewValidationError("window", fmt.Sprintf("future_days %d exceeds %d", w.FutureDays, limits.future()))
	}
	return nil
}

// CalendarLookup resolves calendar ids.
type CalendarLookup interface {
	GetCalendar(ctx context.Context, id string) (*model.Calendar, error)
}

// ValidateRule checks rule before anything is fetched and returns its
// parsed filter. Static checks run first, then every source and the target
// calendar must resolve.
func ValidateRule(ctx context.Context, calendars CalendarLookup, rule model.SyncRule, limits Limits) (*FilterSpec, error) {
	scope := rule.SourceScope()
	if len(scope) == 0 {
		return nil, appErr.NewValidationError("source_calendar_id", "rule has no source calendar")
	}
	if rule.TargetCalendarID == "" {
		return nil, appErr.NewValidationError("target_calendar_id", "rule has no target calendar")
	}
	if slices.Contains(scope, rule.TargetCalendarID) {
		return nil, appErr.NewValidationError("target_calendar_id",
			fmt.Sprintf("%q is also a source calendar", rule.TargetCalendarID))
	}
	if err := ValidateWindow(rule.Window, limits); err != nil {
		return nil, err
	}
	spec, err := ParseFilters(rule.Filters)
	if err != nil {
		return nil, err
	}

	for _, id := range append(scope, rule.TargetCalendarID) {
		if _, err := calendars.GetCalendar(ctx, id); err != nil {
			return nil, err
		}
	}
	return spec, nil
}
