// Package filter is the local post-filter applied to every fetched message
// before it is transformed: the compiled date range checked against the
// message date, then optional header and body patterns.
package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/Danamir/imap-attachment-extractor/daterange"
)

// Options captures the filtering configuration.
type Options struct {
	Range         daterange.Range
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter holds the date range and compiled regex patterns for filtering messages.
type Filter struct {
	dates          daterange.Range
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool
}

// Verdict explains why a message was rejected. The zero value accepts.
type Verdict string

const (
	Accept      Verdict = ""
	OutOfRange  Verdict = "out of date range"
	NotIncluded Verdict = "no include pattern matched"
	Excluded    Verdict = "exclude pattern matched"
)

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		dates:          opts.Range,
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

// Check runs the whole post-filter on a raw message. internalDate is the
// server's arrival time, which is what the server-side search matched on;
// the Date header is used only when the server reported none.
func (f *Filter) Check(raw []byte, internalDate time.Time) Verdict {
	header, body := SplitRawMessage(raw)

	when := internalDate
	if when.IsZero() {
		when = HeaderDate(header)
	}
	if !when.IsZero() && !f.InRange(when) {
		return OutOfRange
	}

	if f.Allows(header, body) {
		return Accept
	}
	if f.includeMode {
		return NotIncluded
	}
	return Excluded
}

// InRange reports whether t falls within the configured date range.
func (f *Filter) InRange(t time.Time) bool {
	return f.dates.Contains(t)
}

// Allows returns true if the message passes the pattern criteria.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if f.includeMode {
		matched := matchAny(f.includeHeader, headerText) || matchAny(f.includeBody, bodyText)
		return matched
	}

	if f.excludeMode {
		if matchAny(f.excludeHeader, headerText) || matchAny(f.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

// HeaderDate parses the Date field of a raw header block, zero when absent or invalid.
func HeaderDate(header []byte) time.Time {
	if len(header) == 0 {
		return time.Time{}
	}
	block := append(append([]byte(nil), header...), "\r\n\r\n"...)
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(block)))
	if err != nil {
		return time.Time{}
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	t, err := mh.Date()
	if err != nil {
		return time.Time{}
	}
	return t
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
