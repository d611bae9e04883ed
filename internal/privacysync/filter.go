package privacysync

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

// Work hours, inclusive, checked against the start hour in the event's own
// zone.
const (
	workDayStartHour = 9
	workDayEndHour   = 17
)

// FilterSpec selects which source events a rule mirrors. All configured
// criteria must hold. A nil list means the criterion is absent.
type FilterSpec struct {
	WorkHoursOnly      bool
	WeekdaysOnly       bool
	ExcludeAllDay      bool
	MinDurationMinutes int
	IncludeColors      []string
	ExcludeColors      []string
}

// ApplyFilter returns the events spec allows, in input order. A nil spec
// passes everything.
func ApplyFilter(events []model.Event, spec *FilterSpec) []model.Event {
	if spec == nil {
		return events
	}
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if spec.Allows(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Allows reports whether ev passes every configured criterion.
func (s *FilterSpec) Allows(ev model.Event) bool {
	if s == nil {
		return true
	}
	if s.WorkHoursOnly {
		h := ev.Start.Hour()
		if h < workDayStartHour || h > workDayEndHour {
			return false
		}
	}
	if s.WeekdaysOnly {
		if wd := ev.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	if s.ExcludeAllDay && ev.AllDay {
		return false
	}
	if s.MinDurationMinutes > 0 && int(ev.Duration()/time.Minute) < s.MinDurationMinutes {
		return false
	}
	if ev.Color != "" {
		if s.IncludeColors != nil && !slices.Contains(s.IncludeColors, ev.Color) {
			return false
		}
		if s.ExcludeColors != nil && slices.Contains(s.ExcludeColors, ev.Color) {
			return false
		}
	}
	return true
}

// ParseFilters turns a rule's raw filter expressions into a FilterSpec.
// Recognized expressions:
//
//	work_hours_only
//	weekdays_only
//	exclude_all_day
//	min_duration=<minutes>
//	include_colors=<c1>,<c2>
//	exclude_colors=<c1>,<c2>
//
// Keys are case-insensitive. No expressions yields a nil spec.
func ParseFilters(exprs []string) (*FilterSpec, error) {
	var spec *FilterSpec
	for _, raw := range exprs {
		expr := strings.TrimSpace(raw)
		if expr == "" {
			continue
		}
		if spec == nil {
			spec = &FilterSpec{}
		}

		key, value, hasValue := strings.Cut(expr, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "work_hours_only":
			spec.WorkHoursOnly = true
		case "weekdays_only":
			spec.WeekdaysOnly = true
		case "exclude_all_day":
			spec.ExcludeAllDay = true
		case "min_duration":
			n, err := strconv.Atoi(value)
			if !hasValue || err != nil || n < 0 {
				return nil, appErr.NewValidationError("filter", fmt.Sprintf("%q needs a non-negative number of minutes", expr))
			}
			spec.MinDurationMinutes = n
		case "include_colors":
			spec.IncludeColors = splitColors(value)
		case "exclude_colors":
			spec.ExcludeColors = splitColors(value)
		default:
			return nil, appErr.NewValidationError("filter", fmt.Sprintf("unknown filter %q", expr))
		}

		if !hasValue && (key == "include_colors" || key == "exclude_colors") {
			return nil, appErr.NewValidationError("filter", fmt.Sprintf("%q needs a color list", expr))
		}
	}
	return spec, nil
}

func splitColors(v string) []string {
	out := make([]string, 0)
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
