// Package replace swaps a message on the server for its rebuilt version:
// append the replacement, then mark the original deleted, and compact the
// folder once at the end of the run.
package replace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Danamir/imap-attachment-extractor/model"
)

var (
	ErrAppend      = errors.New("append replacement")
	ErrMarkDeleted = errors.New("mark original deleted")
	ErrEmpty       = errors.New("replacement message is empty")
)

// Mailbox is the selected folder the transaction writes to.
type Mailbox interface {
	Append(ctx context.Context, raw []byte, flags []string, date time.Time) error
	MarkDeleted(ctx context.Context, uid uint32) error
	Expunge(ctx context.Context) error
}

type Options struct {
	// DryRun simulates both steps and never compacts.
	DryRun bool
	// Debug appends but never deletes.
	Debug bool
}

// Report says which steps of one replacement took effect.
type Report struct {
	Appended  bool
	Deleted   bool
	Simulated bool
}

type Transaction struct {
	mailbox Mailbox
	opts    Options
	logger  *slog.Logger

	appended  int
	deleted   int
	committed bool
}

func New(mailbox Mailbox, opts Options, logger *slog.Logger) *Transaction {
	return &Transaction{mailbox: mailbox, opts: opts, logger: logger}
}

// Replace appends rebuilt with msg's flags and internal date, then marks
// msg deleted. The original is only touched once the append succeeded.
func (t *Transaction) Replace(ctx context.Context, msg model.Message, rebuilt []byte) (Report, error) {
	if len(rebuilt) == 0 {
		return Report{}, fmt.Errorf("uid %d: %w", msg.UID, ErrEmpty)
	}

	if t.opts.DryRun {
		t.debug("dry-run replace", "uid", msg.UID, "size", len(rebuilt))
		return Report{Simulated: true}, nil
	}

	if err := t.mailbox.Append(ctx, rebuilt, KeepFlags(msg.Flags), msg.InternalDate); err != nil {
		return Report{}, fmt.Errorf("uid %d: %w: %v", msg.UID, ErrAppend, err)
	}
	t.appended++

	if t.opts.Debug {
		t.debug("debug mode, original kept", "uid", msg.UID)
		return Report{Appended: true}, nil
	}

	if err := t.mailbox.MarkDeleted(ctx, msg.UID); err != nil {
		return Report{Appended: true}, fmt.Errorf("uid %d: %w: %v", msg.UID, ErrMarkDeleted, err)
	}
	t.deleted++
	t.debug("original marked deleted", "uid", msg.UID)
	return Report{Appended: true, Deleted: true}, nil
}

// Commit compacts the folder when originals were marked deleted. Only the
// first call has an effect.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.committed || t.opts.DryRun {
		return nil
	}
	t.committed = true
	if t.deleted == 0 {
		return nil
	}
	if err := t.mailbox.Expunge(ctx); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	if t.logger != nil {
		t.logger.Info("folder compacted", "removed", t.deleted)
	}
	return nil
}

func (t *Transaction) Appended() int { return t.appended }

func (t *Transaction) Deleted() int { return t.deleted }

func (t *Transaction) debug(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, args...)
	}
}

// KeepFlags drops the flags a client cannot or must not set on append.
func KeepFlags(flags []string) []string {
	kept := make([]string, 0, len(flags))
	for _, f := range flags {
		switch {
		case strings.EqualFold(f, `\Recent`), strings.EqualFold(f, `\Deleted`):
			continue
		}
		kept = append(kept, f)
	}
	return kept
}
