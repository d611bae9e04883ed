// Package provider holds the calendar provider adapters the sync engine
// writes mirrors through.
package provider

import (
	"context"
	"fmt"
	"time"

	appErr "calmirror/internal/errors"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// Adapter writes events into one account's calendars. DeleteEvent of an id
// the calendar does not hold succeeds.
type Adapter interface {
	CreateEvent(ctx context.Context, draft model.EventDraft) (*model.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventDraft) (*model.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	Close() error
}

// EventStore is what the adapters need from the calendar store.
type EventStore interface {
	GetCalendar(ctx context.Context, id string) (*model.Calendar, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	GetEventsByCalendar(ctx context.Context, calendarID string, start, end *time.Time) ([]model.Event, error)
	CreateEvent(ctx context.Context, ev *model.Event) error
	UpdateEvent(ctx context.Context, ev *model.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// Factory builds a fresh adapter per account.
type Factory struct {
	store      EventStore
	publishDir string
}

// NewFactory returns a factory whose ICS adapters publish into publishDir
// unless the account names its own "publish_dir".
func NewFactory(store EventStore, publishDir string) *Factory {
	return &Factory{store: store, publishDir: publishDir}
}

// NewProvider returns the adapter for acct.
func (f *Factory) NewProvider(_ context.Context, acct *model.Account) (Adapter, error) {
	if acct == nil {
		return nil, appErr.NewValidationError("account", "nil account")
	}
	if !acct.Enabled {
		return nil, appErr.NewProviderError("connect", acct.ID, fmt.Errorf("account %q is disabled", acct.Name))
	}

	local := NewLocal(f.store, acct.ID)

	switch acct.Provider {
	case model.ProviderLocal, "":
		return local, nil
	case model.ProviderICS:
		dir := acct.Config["publish_dir"]
		if dir == "" {
			dir = f.publishDir
		}
		appLog.Debug("ics publish provider ready", "account_id", acct.ID, "dir", dir)
		return newICSPublisher(local, dir), nil
	default:
		return nil, appErr.NewValidationError("provider", fmt.Sprintf("unknown provider kind %q", acct.Provider))
	}
}
