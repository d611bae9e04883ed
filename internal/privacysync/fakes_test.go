package privacysync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	appErr "calmirror/internal/errors"
	"calmirror/internal/model"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	calendars map[string]model.Calendar
	accounts  map[string]model.Account
	events    map[string]model.Event
	rules     map[string]model.SyncRule

	rangeCalls int
	rangeErr   error
	scanErr    error
}

func newMemStore() *memStore {
	s := &memStore{
		calendars: make(map[string]model.Calendar),
		accounts:  make(map[string]model.Account),
		events:    make(map[string]model.Event),
		rules:     make(map[string]model.SyncRule),
	}
	s.accounts["acct"] = model.Account{ID: "acct", Provider: model.ProviderLocal, Enabled: true}
	for _, id := range []string{"work", "side", "personal"} {
		s.calendars[id] = model.Calendar{ID: id, AccountID: "acct", Name: id}
	}
	return s
}

func (s *memStore) addEvent(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
}

func (s *memStore) removeEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
}

func (s *memStore) eventsIn(calendarID string) []model.Event {
	evs, _ := s.GetEventsByCalendar(context.Background(), calendarID, nil, nil)
	return evs
}

func (s *memStore) GetCalendar(_ context.Context, id string) (*model.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calendars[id]
	if !ok {
		return nil, appErr.NewNotFoundError("calendar", id, nil)
	}
	return &c, nil
}

func (s *memStore) GetCalendarAccount(_ context.Context, calendarID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calendars[calendarID]
	if !ok {
		return nil, appErr.NewNotFoundError("calendar", calendarID, nil)
	}
	a, ok := s.accounts[c.AccountID]
	if !ok {
		return nil, appErr.NewNotFoundError("account", c.AccountID, nil)
	}
	return &a, nil
}

func (s *memStore) GetEventsInRange(_ context.Context, calendarIDs []string, start, end time.Time) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rangeCalls++
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if slices.Contains(calendarIDs, ev.CalendarID) && ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *memStore) GetEventsByCalendar(_ context.Context, calendarID string, start, end *time.Time) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if ev.CalendarID != calendarID {
			continue
		}
		if end != nil && !ev.Start.Before(*end) {
			continue
		}
		if start != nil && !ev.End.After(*start) {
			continue
		}
		out = append(out, ev)
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(evs []model.Event) {
	slices.SortFunc(evs, func(a, b model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

func (s *memStore) ListSyncRules(context.Context) ([]model.SyncRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, cloneRule(r))
	}
	slices.SortFunc(out, func(a, b model.SyncRule) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *memStore) ListEnabledSyncRules(ctx context.Context) ([]model.SyncRule, error) {
	all, err := s.ListSyncRules(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(r model.SyncRule) bool { return !r.Enabled }), nil
}

func (s *memStore) GetSyncRule(_ context.Context, id string) (*model.SyncRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, appErr.NewNotFoundError("sync rule", id, nil)
	}
	c := cloneRule(r)
	return &c, nil
}

func (s *memStore) CreateSyncRule(_ context.Context, rule *model.SyncRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return appErr.NewStoreError("create sync rule", fmt.Errorf("duplicate id %s", rule.ID))
	}
	s.rules[rule.ID] = cloneRule(*rule)
	return nil
}

func (s *memStore) UpdateSyncRule(_ context.Context, rule *model.SyncRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return appErr.NewNotFoundError("sync rule", rule.ID, nil)
	}
	s.rules[rule.ID] = cloneRule(*rule)
	return nil
}

func (s *memStore) rule(id string) model.SyncRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRule(s.rules[id])
}

func cloneRule(r model.SyncRule) model.SyncRule {
	r.Metadata = maps.Clone(r.Metadata)
	r.Filters = slices.Clone(r.Filters)
	r.SourceCalendarIDs = slices.Clone(r.SourceCalendarIDs)
	return r
}

var errInjected = errors.New("injected provider failure")

// fakeProvider writes mirrors straight into a memStore.
type fakeProvider struct {
	store *memStore

	mu sync.Mutex
	// failFor makes create and update fail for these source event ids.
	failFor map[string]bool
	seq     int
	creates int
	updates int
	deletes int
}

func newFakeProvider(store *memStore) *fakeProvider {
	return &fakeProvider{store: store, failFor: make(map[string]bool)}
}

func (p *fakeProvider) CreateEvent(_ context.Context, draft model.EventDraft) (*model.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[draft.ExtendedProperties[KeySourceEventID]] {
		return nil, appErr.NewProviderError("create event", draft.UID, errInjected)
	}
	p.seq++
	p.creates++
	ev := model.Event{ID: fmt.Sprintf("mirror-%d", p.seq)}
	draft.ApplyTo(&ev)
	p.store.addEvent(ev)
	return &ev, nil
}

func (p *fakeProvider) UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventDraft) (*model.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[patch.ExtendedProperties[KeySourceEventID]] {
		return nil, appErr.NewProviderError("update event", eventID, errInjected)
	}
	p.store.mu.Lock()
	ev, ok := p.store.events[eventID]
	p.store.mu.Unlock()
	if !ok || ev.CalendarID != calendarID {
		return nil, appErr.NewNotFoundError("event", eventID, nil)
	}
	p.updates++
	patch.ApplyTo(&ev)
	p.store.addEvent(ev)
	return &ev, nil
}

func (p *fakeProvider) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.mu.Lock()
	ev, ok := p.store.events[eventID]
	p.store.mu.Unlock()
	if ok && ev.CalendarID == calendarID {
		p.deletes++
		p.store.removeEvent(eventID)
	}
	return nil
}

func (p *fakeProvider) factory() ProviderFactory {
	return ProviderFactoryFunc(func(context.Context, *model.Account) (Provider, error) {
		return p, nil
	})
}

// gaugedProvider tracks how many rule runs hold a provider at once.
type gaugedProvider struct {
	*fakeProvider
	active *atomic.Int32
}

func (g gaugedProvider) Close() error {
	g.active.Add(-1)
	return nil
}

func gaugedFactory(p *fakeProvider, delay time.Duration, active, peak *atomic.Int32) ProviderFactory {
	return ProviderFactoryFunc(func(context.Context, *model.Account) (Provider, error) {
		n := active.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(delay)
		return gaugedProvider{fakeProvider: p, active: active}, nil
	})
}

// testNow is a Monday.
var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func sourceEvent(id, calendarID string, start time.Time, d time.Duration) model.Event {
	return model.Event{
		ID:           id,
		CalendarID:   calendarID,
		AccountID:    "acct",
		UID:          id + "@example.com",
		Title:        "Dentist " + id,
		Description:  "bring x-rays",
		Location:     "Main St 1",
		Start:        start,
		End:          start.Add(d),
		Timezone:     "UTC",
		Status:       model.StatusTentative,
		Visibility:   model.VisibilityPrivate,
		Transparency: model.TransparencyTransparent,
		Organizer:    &model.Participant{Email: "boss@example.com"},
		Attendees:    []model.Attendee{{Email: "a@example.com"}},
	}
}

func baseRule(id string) model.SyncRule {
	return model.SyncRule{
		ID:               id,
		Name:             "work to personal",
		Enabled:          true,
		Active:           true,
		SourceCalendarID: "work",
		TargetCalendarID: "personal",
		Privacy: model.PrivacySettings{
			StripDescription: true,
			StripLocation:    true,
			StripAttendees:   true,
			DefaultTitle:     "Busy",
		},
	}
}
