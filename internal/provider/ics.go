package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	appErr "calmirror/internal/errors"
	"calmirror/internal/ics"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
)

// ICSPublisher writes through to the store like Local and, on Close,
// republishes every calendar it touched as <dir>/<calendar id>.ics.
type ICSPublisher struct {
	*Local
	dir string

	mu    sync.Mutex
	dirty map[string]struct{}
}

func newICSPublisher(local *Local, dir string) *ICSPublisher {
	return &ICSPublisher{Local: local, dir: dir, dirty: make(map[string]struct{})}
}

func (p *ICSPublisher) touch(calendarID string) {
	p.mu.Lock()
	p.dirty[calendarID] = struct{}{}
	p.mu.Unlock()
}

func (p *ICSPublisher) CreateEvent(ctx context.Context, draft model.EventDraft) (*model.Event, error) {
	ev, err := p.Local.CreateEvent(ctx, draft)
	if err == nil {
		p.touch(ev.CalendarID)
	}
	return ev, err
}

func (p *ICSPublisher) UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventDraft) (*model.Event, error) {
	ev, err := p.Local.UpdateEvent(ctx, calendarID, eventID, patch)
	if err == nil {
		p.touch(calendarID)
	}
	return ev, err
}

func (p *ICSPublisher) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := p.Local.DeleteEvent(ctx, calendarID, eventID)
	if err == nil {
		p.touch(calendarID)
	}
	return err
}

// Close publishes the touched calendars. It keeps going past a failed
// calendar and returns the joined errors.
func (p *ICSPublisher) Close() error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	p.dirty = make(map[string]struct{})
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := p.Publish(context.Background(), id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish renders one calendar and atomically replaces its .ics file.
func (p *ICSPublisher) Publish(ctx context.Context, calendarID string) error {
	cal, err := p.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return appErr.NewProviderError("publish", calendarID, err)
	}
	events, err := p.store.GetEventsByCalendar(ctx, calendarID, nil, nil)
	if err != nil {
		return appErr.NewProviderError("publish", calendarID, err)
	}

	body := ics.EncodeCalendar(cal.Name, events)
	path := filepath.Join(p.dir, calendarID+".ics")
	if err := writeFileAtomic(path, body); err != nil {
		return appErr.NewProviderError("publish", calendarID, err)
	}

	appLog.Info("ics calendar published", "calendar_id", calendarID, "events", len(events), "path", path)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmirror-publish-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
