package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Danamir/imap-attachment-extractor/stats"
)

type StageFunc func(context.Context) error

type SubscriberFunc func(context.Context, <-chan stats.Event) error

type stage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name   string
	fn     SubscriberFunc
	events chan stats.Event
}

// Runner owns the run: its id, its cancellation and the event stream every
// subscriber receives a full copy of. Stages and subscribers start with Start.
type Runner struct {
	id     string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	stages      []stage
	subscribers []*subscriber

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(parent context.Context, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		id:     id,
		logger: logger.With("run", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID identifies the run in logs and the journal.
func (r *Runner) ID() string {
	return r.id
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// EmitEvent delivers evt to every subscriber. It blocks while a subscriber's
// buffer is full and gives up when the run is cancelled.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.mu.Lock()
	subs := r.subscribers
	r.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic(fmt.Sprintf("runner: subscriber %s added after start", name))
	}
	r.subscribers = append(r.subscribers, &subscriber{name: name, fn: fn, events: make(chan stats.Event, 128)})
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic(fmt.Sprintf("runner: stage %s added after start", name))
	}
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Start runs every stage to completion, then drains the subscribers, and
// returns the first error.
func (r *Runner) Start() error {
	r.mu.Lock()
	r.started = true
	stages, subs := r.stages, r.subscribers
	r.mu.Unlock()

	r.since = time.Now()

	for _, sub := range subs {
		r.statsWG.Add(1)
		go func() {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}()
	}

	for _, st := range stages {
		r.workWG.Add(1)
		go func() {
			defer r.workWG.Done()
			if err := st.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", st.name, err))
			}
		}()
	}

	r.workWG.Wait()
	r.closeEvents(subs)
	r.statsWG.Wait()

	parentErr := context.Cause(r.ctx)
	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	if err == nil && parentErr != nil {
		err = parentErr
	}

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("run failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("run completed", "duration", duration)
	return nil
}

func (r *Runner) closeEvents(subs []*subscriber) {
	r.closeEventsOnce.Do(func() {
		for _, sub := range subs {
			close(sub.events)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
