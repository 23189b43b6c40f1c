// Package transform walks a message's MIME tree, extracts attachments above
// a size threshold and builds the replacement message carrying stubs.
package transform

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/Danamir/imap-attachment-extractor/model"
)

// Policy decides what happens to messages carrying the \Flagged flag.
type Policy string

const (
	PolicySkip    Policy = "skip"
	PolicyExtract Policy = "extract"
	PolicyDetach  Policy = "detach"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyExtract, PolicyDetach:
		return p, nil
	default:
		return "", fmt.Errorf("invalid flagged policy %q: want skip, extract or detach", s)
	}
}

const flagFlagged = `\Flagged`

// Store receives extracted payloads.
type Store interface {
	Save(day time.Time, filename string, content []byte) (model.ExtractedFile, error)
}

type Options struct {
	// Threshold is the size in bytes a decoded payload must exceed to be extracted.
	Threshold   int64
	Flagged     Policy
	ExtractOnly bool
	// Now stamps the detach marker; defaults to time.Now.
	Now func() time.Time
}

// Result is the outcome of transforming one message.
type Result struct {
	Extracted []model.ExtractedFile
	// Rebuilt is the serialized replacement, nil unless Replace is set.
	Rebuilt     []byte
	Replace     bool
	Skipped     bool
	Diagnostics []string
	// MessageID is the Message-Id of the original, without angle brackets.
	MessageID string
}

func (r Result) ExtractedBytes() int64 {
	var total int64
	for _, f := range r.Extracted {
		total += f.Size
	}
	return total
}

type Transformer struct {
	opts   Options
	store  Store
	logger *slog.Logger
}

func New(opts Options, store Store, logger *slog.Logger) *Transformer {
	if opts.Flagged == "" {
		opts.Flagged = PolicySkip
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Transformer{opts: opts, store: store, logger: logger}
}

// Transform processes msg. A returned error wrapping ErrMalformedMessage is
// scoped to the message; any other error comes from the store.
func (t *Transformer) Transform(msg model.Message) (Result, error) {
	flagged := msg.HasFlag(flagFlagged)
	if flagged && t.opts.Flagged == PolicySkip {
		return Result{Skipped: true}, nil
	}

	root, err := Parse(msg.Raw)
	if err != nil {
		return Result{}, err
	}
	if !root.Multipart() {
		return Result{MessageID: messageID(root)}, nil
	}

	w := &walker{
		t:       t,
		uid:     msg.UID,
		day:     messageDay(root, msg.InternalDate, t.opts.Now),
		replace: !t.opts.ExtractOnly && (!flagged || t.opts.Flagged == PolicyDetach),
		counter: 1,
	}

	var parts []*Node
	for i, child := range root.Children {
		kept, err := w.visit(child, strconv.Itoa(i+1))
		if err != nil {
			return Result{}, err
		}
		parts = append(parts, kept...)
	}

	res := Result{Extracted: w.extracted, Diagnostics: w.diagnostics, MessageID: messageID(root)}
	if len(w.extracted) == 0 || !w.replace {
		return res, nil
	}

	rebuilt := &Node{Header: root.Header.Copy(), Children: parts, boundary: root.boundary}
	raw, err := rebuilt.Bytes()
	if err != nil {
		return Result{}, fmt.Errorf("%w: serialize: %v", ErrMalformedMessage, err)
	}
	res.Rebuilt = raw
	res.Replace = true
	return res, nil
}

type walker struct {
	t       *Transformer
	uid     uint32
	day     time.Time
	replace bool
	// counter names parts without a declared filename; the first is part.2.
	counter     int
	extracted   []model.ExtractedFile
	diagnostics []string
}

// visit returns the nodes that stand for n in the flattened rebuilt message.
func (w *walker) visit(n *Node, section string) ([]*Node, error) {
	if n.Multipart() {
		if n.MediaType() == "multipart/alternative" {
			return []*Node{n}, nil
		}
		var out []*Node
		for i, child := range n.Children {
			kept, err := w.visit(child, section+"."+strconv.Itoa(i+1))
			if err != nil {
				return nil, err
			}
			out = append(out, kept...)
		}
		return out, nil
	}

	kept, err := w.leaf(n, section)
	if err != nil {
		return nil, err
	}
	return []*Node{kept}, nil
}

func (w *walker) leaf(n *Node, section string) (*Node, error) {
	if !n.IsAttachment() {
		return n, nil
	}

	w.counter++
	filename := n.Filename()
	if filename == "" {
		filename = "part." + strconv.Itoa(w.counter)
	}

	if IsDetached(n) {
		w.debug("attachment already detached", "filename", filename, "section", section)
		return n, nil
	}

	content, err := decodePayload(n)
	if err != nil {
		w.diagnose(fmt.Sprintf("decode attachment %q (section %s): %v, left intact", filename, section, err))
		return n, nil
	}

	if int64(len(content)) <= w.t.opts.Threshold {
		w.debug("attachment below threshold", "filename", filename, "size", len(content), "threshold", w.t.opts.Threshold)
		return n, nil
	}

	file, err := w.t.store.Save(w.day, filename, content)
	if err != nil {
		return nil, fmt.Errorf("save %q from message %d: %w", filename, w.uid, err)
	}
	file.Part = section
	w.extracted = append(w.extracted, file)

	if !w.replace {
		return n, nil
	}
	return Stub(n, file.Path, w.t.opts.Now()), nil
}

func (w *walker) diagnose(msg string) {
	w.diagnostics = append(w.diagnostics, msg)
	if w.t.logger != nil {
		w.t.logger.Warn(msg, "uid", w.uid)
	}
}

func (w *walker) debug(msg string, args ...any) {
	if w.t.logger != nil {
		w.t.logger.Debug(msg, append(args, "uid", w.uid)...)
	}
}

// decodePayload decodes base64 bodies, ignoring line breaks and stray
// characters, and returns any other body as is.
func decodePayload(n *Node) ([]byte, error) {
	if n.Encoding() != "base64" {
		return n.Body, nil
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case 'A' <= r && r <= 'Z', 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '+', r == '/', r == '=':
			return r
		}
		return -1
	}, string(n.Body))
	// padding is optional
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
}

func messageID(root *Node) string {
	h := mail.Header{Header: message.Header{Header: root.Header}}
	id, err := h.MessageID()
	if err != nil {
		return ""
	}
	return id
}

// messageDay is the Date header, falling back to the internal date, then now.
func messageDay(root *Node, internal time.Time, now func() time.Time) time.Time {
	h := mail.Header{Header: message.Header{Header: root.Header}}
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t
	}
	if !internal.IsZero() {
		return internal
	}
	return now()
}
