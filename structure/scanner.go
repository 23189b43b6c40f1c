package structure

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

var ErrNotFetch = errors.New("not a FETCH response")

// Record is one assembled FETCH response.
type Record struct {
	SeqNum        uint32
	UID           uint32
	Raw           string
	Root          *Part
	HasAttachment bool
}

// ID is the UID when the response carried one, the sequence number otherwise.
func (r Record) ID() uint32 {
	if r.UID != 0 {
		return r.UID
	}
	return r.SeqNum
}

// Scanner assembles FETCH responses that the server wrapped over several
// lines and classifies each with a Detector. Records that cannot be parsed
// are dropped with a diagnostic.
type Scanner struct {
	detector    Detector
	logger      *slog.Logger
	pending     strings.Builder
	records     []Record
	diagnostics []string
}

func NewScanner(detector Detector, logger *slog.Logger) *Scanner {
	return &Scanner{detector: detector, logger: logger}
}

// Feed consumes one physical response line, without its line terminator.
func (s *Scanner) Feed(line string) {
	line = strings.TrimRight(line, "\r\n")
	// tagged completions and other untagged responses carry no structure
	if s.pending.Len() == 0 && !isFetchStart(line) {
		return
	}
	// a new response while the previous one is still open: the previous one is broken
	if s.pending.Len() > 0 && isFetchStart(line) && !awaitingLiteral(s.pending.String()) {
		s.diagnose(s.pending.String(), ErrUnbalanced)
		s.pending.Reset()
	}

	s.pending.WriteString(line)
	text := s.pending.String()
	if !closed(text) {
		return
	}
	s.pending.Reset()
	s.parse(text)
}

// Flush reports a record left incomplete at the end of input.
func (s *Scanner) Flush() {
	if s.pending.Len() == 0 {
		return
	}
	s.diagnose(s.pending.String(), ErrUnexpectedEnd)
	s.pending.Reset()
}

func (s *Scanner) Records() []Record {
	return s.records
}

func (s *Scanner) Diagnostics() []string {
	return s.diagnostics
}

// Candidates returns, in input order, the IDs of records with attachments.
func (s *Scanner) Candidates() []uint32 {
	var ids []uint32
	for _, r := range s.records {
		if r.HasAttachment {
			ids = append(ids, r.ID())
		}
	}
	return ids
}

func (s *Scanner) parse(text string) {
	record, err := parseFetch(text)
	if err != nil {
		s.diagnose(text, err)
		return
	}
	record.HasAttachment = s.detector.HasAttachment(record.Root)
	s.records = append(s.records, record)
}

func (s *Scanner) diagnose(text string, err error) {
	excerpt := text
	if len(excerpt) > 80 {
		excerpt = excerpt[:77] + "..."
	}
	msg := fmt.Sprintf("skip structure %q: %v", excerpt, err)
	s.diagnostics = append(s.diagnostics, msg)
	if s.logger != nil {
		s.logger.Warn("skip unparseable structure", "record", excerpt, "err", err)
	}
}

func isFetchStart(line string) bool {
	fields := strings.Fields(line)
	return len(fields) >= 3 && fields[0] == "*" && strings.HasPrefix(strings.ToUpper(fields[2]), "FETCH")
}

// parseFetch reads "* <seq> FETCH (<item> <value> ...)".
func parseFetch(text string) (Record, error) {
	values, err := parseValues(text)
	if err != nil {
		return Record{}, err
	}
	if len(values) < 4 || values[0].str() != "*" || !strings.EqualFold(values[2].str(), "FETCH") || !values[3].isList() {
		return Record{}, ErrNotFetch
	}

	record := Record{Raw: text}
	seq, err := strconv.ParseUint(values[1].str(), 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad sequence number %q", ErrNotFetch, values[1].str())
	}
	record.SeqNum = uint32(seq)

	items := values[3].list
	for i := 0; i+1 < len(items); i += 2 {
		key, val := strings.ToUpper(items[i].str()), items[i+1]
		switch key {
		case "UID":
			uid, err := strconv.ParseUint(val.str(), 10, 32)
			if err != nil {
				return Record{}, fmt.Errorf("bad UID %q", val.str())
			}
			record.UID = uint32(uid)
		case "BODYSTRUCTURE", "BODY":
			root, err := fromValue(val)
			if err != nil {
				return Record{}, err
			}
			record.Root = root
		}
	}

	if record.Root == nil {
		return Record{}, fmt.Errorf("%w: no BODYSTRUCTURE item", ErrNotBodyStructure)
	}
	return record, nil
}

// Scan runs a Scanner over a FETCH transcript.
func Scan(r io.Reader, detector Detector, logger *slog.Logger) (*Scanner, error) {
	s := NewScanner(detector, logger)
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lines.Scan() {
		s.Feed(lines.Text())
	}
	if err := lines.Err(); err != nil {
		return s, fmt.Errorf("read transcript: %w", err)
	}
	s.Flush()
	return s, nil
}
