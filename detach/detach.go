// Package detach drives one run over the selected folder: search, narrow to
// messages whose structure carries attachments, then extract and replace
// them one at a time.
package detach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/Danamir/imap-attachment-extractor/daterange"
	"github.com/Danamir/imap-attachment-extractor/filter"
	"github.com/Danamir/imap-attachment-extractor/journal"
	"github.com/Danamir/imap-attachment-extractor/mbox"
	"github.com/Danamir/imap-attachment-extractor/model"
	"github.com/Danamir/imap-attachment-extractor/replace"
	"github.com/Danamir/imap-attachment-extractor/stats"
	"github.com/Danamir/imap-attachment-extractor/structure"
	"github.com/Danamir/imap-attachment-extractor/transform"
)

// Session is the connection to the selected folder.
type Session interface {
	replace.Mailbox
	Capabilities() imapv2.CapSet
	Search(ctx context.Context, criteria *imapv2.SearchCriteria) ([]uint32, error)
	Structures(ctx context.Context, uids []uint32) ([]structure.Record, error)
	FetchMessage(ctx context.Context, uid uint32) (model.Message, error)
}

// Backup receives originals before they are replaced.
type Backup interface {
	Write(from string, date time.Time, raw []byte) error
}

type Emitter interface {
	EmitEvent(evt stats.Event)
}

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeFiltered
	OutcomeSkipped
	OutcomeUnchanged
	OutcomeExtracted
	OutcomeSimulated
	OutcomeAppended
	OutcomeReplaced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFiltered:
		return "filtered"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeExtracted:
		return "extracted"
	case OutcomeSimulated:
		return "simulated"
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "failed"
	}
}

type Options struct {
	Folder       string
	Range        daterange.Range
	Threshold    int64
	InlineImages bool
	DryRun       bool
	RunID        string
}

// Deps are the collaborators of a Pipeline. Journal and Backup may be nil.
type Deps struct {
	Session     Session
	Filter      *filter.Filter
	Transformer *transform.Transformer
	Transaction *replace.Transaction
	Journal     journal.Recorder
	Backup      Backup
	Events      Emitter
	Logger      *slog.Logger
	Now         func() time.Time
}

type Pipeline struct {
	Deps
	opts Options
}

func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Session == nil:
		return nil, errors.New("detach: session is nil")
	case deps.Filter == nil:
		return nil, errors.New("detach: filter is nil")
	case deps.Transformer == nil:
		return nil, errors.New("detach: transformer is nil")
	case deps.Transaction == nil:
		return nil, errors.New("detach: transaction is nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{Deps: deps, opts: opts}, nil
}

// Run processes every candidate of the selected folder and compacts the
// folder once at the end, also when processing stopped early.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	candidates, err := p.Candidates(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if commitErr := p.Transaction.Commit(context.WithoutCancel(ctx)); commitErr != nil && err == nil {
			p.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, Err: commitErr})
			err = commitErr
		}
		p.Logger.Info("replacements done", "appended", p.Transaction.Appended(), "deleted", p.Transaction.Deleted())
	}()

	for _, uid := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := p.Process(ctx, uid)
		p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeProcessed, UID: uid, Detail: outcome.String()})
		if err != nil {
			return err
		}
	}
	return nil
}

// Candidates searches the folder and returns, in server order, the UIDs
// whose structure carries attachments.
func (p *Pipeline) Candidates(ctx context.Context) ([]uint32, error) {
	dialect := daterange.SelectDialect(p.Session.Capabilities())
	criteria := dialect.Criteria(p.opts.Range, daterange.SearchOptions{MinSize: p.opts.Threshold})

	uids, err := p.Session.Search(ctx, criteria)
	if err != nil {
		p.emit(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeError, Err: err})
		return nil, err
	}
	for _, uid := range uids {
		p.emit(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeScanned, UID: uid})
	}
	p.Logger.Info("messages corresponding to search", "count", len(uids), "folder", p.opts.Folder, "dates", p.opts.Range.String(), "dialect", dialect.Name())
	if len(uids) == 0 {
		return nil, nil
	}

	records, err := p.Session.Structures(ctx, uids)
	if err != nil {
		p.emit(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeError, Err: err})
		return nil, err
	}

	detector := structure.NewDetector(p.opts.InlineImages)
	var candidates []uint32
	for _, record := range records {
		if !detector.HasAttachment(record.Root) {
			continue
		}
		candidates = append(candidates, record.ID())
		p.emit(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeCandidate, UID: record.ID()})
	}
	p.Logger.Info("messages with attachments", "count", len(candidates))
	return candidates, nil
}

// Process handles one candidate. Failures scoped to the message are reported
// as OutcomeFailed with a nil error; a returned error ends the run.
func (p *Pipeline) Process(ctx context.Context, uid uint32) (Outcome, error) {
	logger := p.Logger.With("uid", uid)

	msg, err := p.Session.FetchMessage(ctx, uid)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeFailed, ctx.Err()
		}
		return p.failed(stats.StageIMAP, uid, fmt.Errorf("fetch: %w", err))
	}

	if verdict := p.Filter.Check(msg.Raw, msg.InternalDate); verdict != filter.Accept {
		logger.Debug("message filtered", "reason", string(verdict))
		p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeFiltered, UID: uid, Detail: string(verdict)})
		return OutcomeFiltered, nil
	}

	res, err := p.Transformer.Transform(msg)
	if errors.Is(err, transform.ErrMalformedMessage) {
		return p.failed(stats.StageDetach, uid, err)
	}
	if err != nil {
		p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeError, UID: uid, Err: err})
		return OutcomeFailed, err
	}

	if res.Skipped {
		logger.Info("flagged message skipped")
		p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeSkipped, UID: uid, Detail: "flagged"})
		return OutcomeSkipped, nil
	}

	if err := p.record(msg, res); err != nil {
		p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeError, UID: uid, Err: err})
		return OutcomeFailed, err
	}

	if len(res.Extracted) == 0 {
		logger.Debug("nothing above threshold")
		return OutcomeUnchanged, nil
	}
	p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeAffected, UID: uid, Bytes: res.ExtractedBytes()})

	if !res.Replace {
		logger.Info("attachments extracted, message kept", "files", len(res.Extracted))
		return OutcomeExtracted, nil
	}

	if p.Backup != nil && !p.opts.DryRun {
		if err := p.Backup.Write(mbox.Sender(msg.Raw), msg.InternalDate, msg.Raw); err != nil {
			err = fmt.Errorf("backup uid %d: %w", uid, err)
			p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeError, UID: uid, Err: err})
			return OutcomeFailed, err
		}
	}

	report, err := p.Transaction.Replace(ctx, msg, res.Rebuilt)
	if err != nil {
		if report.Appended {
			logger.Warn("replacement appended but original not deleted, folder holds both", "err", err)
		}
		return p.failed(stats.StageIMAP, uid, err)
	}

	switch {
	case report.Simulated:
		logger.Info("dry run, message not replaced", "files", len(res.Extracted))
		p.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeDryRunReplaced, UID: uid})
		return OutcomeSimulated, nil
	case !report.Deleted:
		logger.Info("replacement appended, original kept", "files", len(res.Extracted))
		p.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeReplaced, UID: uid, Detail: "original kept"})
		return OutcomeAppended, nil
	default:
		logger.Info("message replaced", "files", len(res.Extracted))
		p.emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeReplaced, UID: uid})
		return OutcomeReplaced, nil
	}
}

// record reports every extracted file and adds it to the journal.
func (p *Pipeline) record(msg model.Message, res transform.Result) error {
	for _, file := range res.Extracted {
		p.emit(stats.Event{Stage: stats.StageDetach, Type: stats.EventTypeExtracted, UID: msg.UID, Bytes: file.Size, Detail: file.Path})
		p.Logger.Info("attachment extracted", "uid", msg.UID, "path", file.Path, "size", file.Size)

		if p.Journal == nil {
			continue
		}
		if prev, ok := p.Journal.Seen(file.SHA256); ok {
			p.Logger.Warn("same content extracted before", "uid", msg.UID, "path", file.Path, "previous", prev.Path, "previousRun", prev.Run)
		}
		err := p.Journal.Record(journal.Entry{
			Run:       p.opts.RunID,
			Time:      p.Now(),
			Folder:    p.opts.Folder,
			UID:       msg.UID,
			MessageID: res.MessageID,
			Part:      file.Part,
			Path:      file.Path,
			Size:      file.Size,
			SHA256:    file.SHA256,
		})
		if err != nil {
			return fmt.Errorf("journal uid %d: %w", msg.UID, err)
		}
	}
	return nil
}

func (p *Pipeline) failed(stage stats.Stage, uid uint32, err error) (Outcome, error) {
	p.Logger.Error("message left unchanged", "uid", uid, "err", err)
	p.emit(stats.Event{Stage: stage, Type: stats.EventTypeError, UID: uid, Err: err})
	return OutcomeFailed, nil
}

func (p *Pipeline) emit(evt stats.Event) {
	if p.Events != nil {
		p.Events.EmitEvent(evt)
	}
}
