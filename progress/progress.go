package progress

import (
	"context"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/Danamir/imap-attachment-extractor/sizeunit"
	"github.com/Danamir/imap-attachment-extractor/stats"
)

// Bar tracks candidate messages as they are processed. Candidates are all
// announced before the first one is processed, so the bar starts lazily.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
}

// New creates a bar that renders only at info level.
func New(logLevel string, disabled bool) *Bar {
	return &Bar{enabled: logLevel == "info" && !disabled}
}

func (b *Bar) Enabled() bool {
	return b.enabled
}

// Update advances the bar for one event.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeCandidate:
		b.total++
	case stats.EventTypeProcessed:
		if b.pb == nil {
			b.start()
		}
		b.done++
		b.pb.Increment()
		b.pb.UpdateTitle("Processing UID " + formatUID(evt.UID))
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("UID %d: %v\n", evt.UID, evt.Err)
		}
	}
}

func (b *Bar) start() {
	pterm.Info.Printf("Messages with attachments: %d\n", b.total)
	pb, _ := pterm.DefaultProgressbar.
		WithTotal(b.total).
		WithTitle("Processing messages").
		Start()
	b.pb = pb
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber feeds the bar from the event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter prints the run summary once the event stream ends.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	started   time.Time
	dryRun    bool
}

// NewProgressReporter subscribes the bar and a summary printer when the bar is enabled.
func NewProgressReporter(stream stats.EventStream, bar *Bar, dryRun bool) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		started:   time.Now(),
		dryRun:    dryRun,
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	title := "Extract finished"
	if pr.dryRun {
		title += " (dry run)"
	}

	pterm.Println()
	pterm.DefaultSection.Println(title)
	pterm.Info.Printf("Duration: %v\n", time.Since(pr.started).Round(time.Millisecond))
	pterm.Info.Printf("Messages scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Messages with attachments: %d\n", summary.Candidates)
	pterm.Info.Printf("Files extracted: %d (%s)\n", summary.FilesExtracted, sizeunit.Format(summary.BytesExtracted))
	pterm.Info.Printf("Messages replaced: %d\n", summary.Replaced+summary.DryRunReplaced)
	pterm.Info.Printf("Skipped / filtered: %d / %d\n", summary.Skipped, summary.Filtered)
	if summary.Errors > 0 {
		pterm.Warning.Printf("Errors: %d\n", summary.Errors)
	}
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}

func formatUID(uid uint32) string {
	return pterm.Sprint(uid)
}
