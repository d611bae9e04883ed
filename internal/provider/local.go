package provider

import (
	"context"
	"errors"
	"fmt"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

// Local writes events straight into the calendar store.
type Local struct {
	store     EventStore
	accountID string
}

// NewLocal returns a store-backed adapter for one account.
func NewLocal(store EventStore, accountID string) *Local {
	return &Local{store: store, accountID: accountID}
}

func (p *Local) CreateEvent(ctx context.Context, draft model.EventDraft) (*model.Event, error) {
	ev := &model.Event{AccountID: p.accountID}
	draft.ApplyTo(ev)

	if err := p.store.CreateEvent(ctx, ev); err != nil {
		return nil, appErr.NewProviderError("create", draft.UID, err)
	}
	return ev, nil
}

func (p *Local) UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventDraft) (*model.Event, error) {
	ev, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, appErr.NewProviderError("update", eventID, err)
	}
	if ev.CalendarID != calendarID {
		return nil, appErr.NewProviderError("update", eventID,
			fmt.Errorf("event belongs to calendar %q, not %q", ev.CalendarID, calendarID))
	}

	if patch.CalendarID == "" {
		patch.CalendarID = calendarID
	}
	patch.ApplyTo(ev)
	ev.AccountID = p.accountID

	if err := p.store.UpdateEvent(ctx, ev); err != nil {
		return nil, appErr.NewProviderError("update", eventID, err)
	}
	return ev, nil
}

func (p *Local) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ev, err := p.store.GetEvent(ctx, eventID)
	if errors.Is(err, appErr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return appErr.NewProviderError("delete", eventID, err)
	}
	if ev.CalendarID != calendarID {
		// Not in this calendar: nothing to delete here.
		return nil
	}

	if err := p.store.DeleteEvent(ctx, eventID); err != nil && !errors.Is(err, appErr.ErrNotFound) {
		return appErr.NewProviderError("delete", eventID, err)
	}
	return nil
}

func (p *Local) Close() error { return nil }
