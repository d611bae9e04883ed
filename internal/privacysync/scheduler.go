package privacysync

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	appLog "calmirror/internal/log"
)

// Scheduler triggers Engine.RunPass on a fixed interval. Passes never
// overlap: a tick that fires while a pass is running is dropped.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron

	// lifecycle serializes Start and Stop. mu guards ctx and cancel, which
	// tick reads.
	lifecycle sync.Mutex
	scheduled bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(engine *Engine) *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		engine: engine,
		cron: cron.New(
			cron.WithChain(cron.SkipIfStillRunning(l), cron.Recover(l)),
			cron.WithLogger(l),
		),
	}
}

// Start schedules the pass. Cancelling ctx aborts a running pass; call Stop
// to end the schedule. A stopped scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running() {
		return nil
	}

	if !s.scheduled {
		spec := fmt.Sprintf("@every %s", s.engine.cfg.SyncInterval)
		if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
			return fmt.Errorf("schedule privacy sync %q: %w", spec, err)
		}
		s.scheduled = true
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	appLog.Info("privacy sync scheduler started",
		"interval", s.engine.cfg.SyncInterval.String(), "max_concurrent", s.engine.cfg.MaxConcurrentSyncs)
	return nil
}

// Stop ends the schedule and waits for a running pass to return.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	done := s.cron.Stop()
	cancel()
	<-done.Done()
	appLog.Info("privacy sync scheduler stopped")
}

func (s *Scheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.engine.RunPass(ctx); err != nil {
		appLog.Error("privacy sync pass failed", err)
	}
}

// Start runs scheduled passes until Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.scheduler == nil {
		e.scheduler = NewScheduler(e)
	}
	s := e.scheduler
	e.mu.Unlock()
	return s.Start(ctx)
}

// Stop ends scheduled passes.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// cronLogger routes cron's logr-style calls to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
