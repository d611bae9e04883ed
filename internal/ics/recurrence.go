package ics

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

var freqNames = map[rrule.Frequency]string{
	rrule.YEARLY:   "YEARLY",
	rrule.MONTHLY:  "MONTHLY",
	rrule.WEEKLY:   "WEEKLY",
	rrule.DAILY:    "DAILY",
	rrule.HOURLY:   "HOURLY",
	rrule.MINUTELY: "MINUTELY",
	rrule.SECONDLY: "SECONDLY",
}

// RecurrenceParser turns raw RRULE text into model.RecurrenceRule.
type RecurrenceParser struct{}

// ParseRRule parses one RRULE value, with or without the "RRULE:" prefix.
func (RecurrenceParser) ParseRRule(raw string) (*model.RecurrenceRule, error) {
	return ParseRRule(raw)
}

// ParseRRule parses one RRULE value, with or without the "RRULE:" prefix.
func ParseRRule(raw string) (*model.RecurrenceRule, error) {
	text := strings.TrimSpace(raw)
	if len(text) >= 6 && strings.EqualFold(text[:6], "RRULE:") {
		text = text[6:]
	}
	if text == "" {
		return nil, appErr.NewValidationError("rrule", "empty rule")
	}

	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, appErr.NewSerializationError("rrule "+text, err)
	}

	rule := &model.RecurrenceRule{
		Raw:      text,
		Freq:     freqNames[opt.Freq],
		Interval: opt.Interval,
		Count:    opt.Count,
	}
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	if !opt.Until.IsZero() {
		until := opt.Until.In(time.UTC)
		rule.Until = &until
	}
	return rule, nil
}
