package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Danamir/imap-attachment-extractor/sizeunit"
)

type Stage string

const (
	StageScan   Stage = "scan"
	StageDetach Stage = "detach"
	StageIMAP   Stage = "imap"
)

type EventType string

const (
	EventTypeScanned        EventType = "scanned"
	EventTypeCandidate      EventType = "candidate"
	EventTypeFiltered       EventType = "filtered"
	EventTypeSkipped        EventType = "skipped"
	EventTypeExtracted      EventType = "extracted"
	EventTypeAffected       EventType = "affected"
	EventTypeReplaced       EventType = "replaced"
	EventTypeDryRunReplaced EventType = "dry_run_replaced"
	EventTypeProcessed      EventType = "processed"
	EventTypeError          EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	UID    uint32
	Bytes  int64
	Err    error
	Detail string
}

type Summary struct {
	Scanned          int
	Candidates       int
	Filtered         int
	Skipped          int
	FilesExtracted   int
	BytesExtracted   int64
	MessagesAffected int
	Replaced         int
	DryRunReplaced   int
	Errors           int
	LastError        error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"candidates", s.Candidates,
		"filtered", s.Filtered,
		"skipped", s.Skipped,
		"filesExtracted", s.FilesExtracted,
		"bytesExtracted", sizeunit.Format(s.BytesExtracted),
		"messagesAffected", s.MessagesAffected,
		"replaced", s.Replaced,
		"dryRunReplaced", s.DryRunReplaced,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeCandidate:
		c.summary.Candidates++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeExtracted:
		c.summary.FilesExtracted++
		c.summary.BytesExtracted += evt.Bytes
	case EventTypeAffected:
		c.summary.MessagesAffected++
	case EventTypeReplaced:
		c.summary.Replaced++
	case EventTypeDryRunReplaced:
		c.summary.DryRunReplaced++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
