package privacysync

import (
	"context"
	"time"

	"calmirror/internal/model"
)

// Store is the calendar store as seen by the engine.
type Store interface {
	GetCalendar(ctx context.Context, id string) (*model.Calendar, error)
	GetCalendarAccount(ctx context.Context, calendarID string) (*model.Account, error)
	GetEventsInRange(ctx context.Context, calendarIDs []string, start, end time.Time) ([]model.Event, error)
	GetEventsByCalendar(ctx context.Context, calendarID string, start, end *time.Time) ([]model.Event, error)

	ListSyncRules(ctx context.Context) ([]model.SyncRule, error)
	ListEnabledSyncRules(ctx context.Context) ([]model.SyncRule, error)
	GetSyncRule(ctx context.Context, id string) (*model.SyncRule, error)
	CreateSyncRule(ctx context.Context, rule *model.SyncRule) error
	UpdateSyncRule(ctx context.Context, rule *model.SyncRule) error
}

// Provider writes mirrors into the target calendar. DeleteEvent of an
// unknown id must succeed. If the provider is also an io.Closer it is
// closed when the run ends.
type Provider interface {
	CreateEvent(ctx context.Context, draft model.EventDraft) (*model.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventDraft) (*model.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// ProviderFactory builds a fresh Provider for the target account of one
// rule run.
type ProviderFactory interface {
	NewProvider(ctx context.Context, acct *model.Account) (Provider, error)
}

// ProviderFactoryFunc adapts a function to ProviderFactory.
type ProviderFactoryFunc func(ctx context.Context, acct *model.Account) (Provider, error)

func (f ProviderFactoryFunc) NewProvider(ctx context.Context, acct *model.Account) (Provider, error) {
	return f(ctx, acct)
}

// RecurrenceParser parses RRULE text.
type RecurrenceParser interface {
	ParseRRule(raw string) (*model.RecurrenceRule, error)
}
