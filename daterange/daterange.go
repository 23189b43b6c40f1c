// Package daterange compiles date definitions such as "2012", ">2012-12-21" or
// "2012-04 to 2012-10" into IMAP search bounds and a local ISO verification form.
package daterange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDateDefinition = errors.New("invalid date definition")

// Modifier is the optional leading '<' or '>' of a date definition.
type Modifier int

const (
	ModifierNone Modifier = iota
	ModifierAfter
	ModifierBefore
)

func (m Modifier) String() string {
	switch m {
	case ModifierAfter:
		return "after"
	case ModifierBefore:
		return "before"
	default:
		return "none"
	}
}

const (
	imapDateLayout = "02-Jan-2006"
	isoDateLayout  = "2006-01-02"
)

var definitionPattern = regexp.MustCompile(`^([<>])?\s*(\d{4})(?:-?(\d{2}))?(?:-?(\d{2}))?(?:\s*(to)\s*(\d{4})(?:-?(\d{2}))?(?:-?(\d{2}))?)?\s*$`)

// Range holds inclusive date bounds. A zero time means the bound is absent.
// On excludes Since and Before.
type Range struct {
	Modifier Modifier
	On       time.Time
	Since    time.Time
	Before   time.Time
}

// IsZero reports whether the range has no bound at all, matching every date.
func (r Range) IsZero() bool {
	return r.On.IsZero() && r.Since.IsZero() && r.Before.IsZero()
}

// Compile parses a date definition:
//
//	2012-12-21          on this day
//	2012-12             during this month
//	2012                during this year
//	>2012               since this year
//	<2012-12-21         before this day (inclusive)
//	2012-04 to 2012-10  between those months
func Compile(def string) (Range, error) {
	match := definitionPattern.FindStringSubmatch(strings.TrimSpace(def))
	if match == nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidDateDefinition, def)
	}

	first, err := parseParts(match[2], match[3], match[4])
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidDateDefinition, def, err)
	}

	var r Range
	switch match[1] {
	case ">":
		r.Modifier = ModifierAfter
		r.Since = first.start()
	case "<":
		r.Modifier = ModifierBefore
		r.Before = first.end()
	default:
		if first.granularity() == granularityDay {
			r.On = first.start()
		} else {
			r.Since = first.start()
			r.Before = first.end()
		}
	}

	if match[5] != "" {
		if r.Modifier != ModifierNone {
			return Range{}, fmt.Errorf("%w: %q: a range cannot carry a '%s' modifier", ErrInvalidDateDefinition, def, match[1])
		}
		second, err := parseParts(match[6], match[7], match[8])
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidDateDefinition, def, err)
		}
		r.On = time.Time{}
		r.Since = first.start()
		r.Before = second.end()
	}

	if !r.Since.IsZero() && !r.Before.IsZero() && r.Since.After(r.Before) {
		return Range{}, fmt.Errorf("%w: %q: start %s is after end %s", ErrInvalidDateDefinition, def, r.Since.Format(isoDateLayout), r.Before.Format(isoDateLayout))
	}

	return r, nil
}

type granularity int

const (
	granularityYear granularity = iota
	granularityMonth
	granularityDay
)

type dateParts struct {
	year, month, day int
}

func parseParts(y, m, d string) (dateParts, error) {
	var p dateParts
	p.year, _ = strconv.Atoi(y)
	if m != "" {
		p.month, _ = strconv.Atoi(m)
		if p.month < 1 || p.month > 12 {
			return p, fmt.Errorf("month %s out of range", m)
		}
	}
	if d != "" {
		p.day, _ = strconv.Atoi(d)
		if p.day < 1 || p.day > daysIn(p.year, time.Month(p.month)) {
			return p, fmt.Errorf("day %s out of range for %04d-%02d", d, p.year, p.month)
		}
	}
	return p, nil
}

func (p dateParts) granularity() granularity {
	switch {
	case p.day != 0:
		return granularityDay
	case p.month != 0:
		return granularityMonth
	default:
		return granularityYear
	}
}

// start defaults missing fields to the first month/day.
func (p dateParts) start() time.Time {
	month, day := p.month, p.day
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(p.year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// end defaults missing fields to the last month/day.
func (p dateParts) end() time.Time {
	month, day := p.month, p.day
	if month == 0 {
		month = 12
	}
	if day == 0 {
		day = daysIn(p.year, time.Month(month))
	}
	return time.Date(p.year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SearchKeys renders the bounds as IMAP search keys, e.g. `SINCE "01-Apr-2012"`.
// BEFORE is exclusive on the wire, so the inclusive Before bound is sent as the following day.
func (r Range) SearchKeys() []string {
	var keys []string
	if !r.On.IsZero() {
		keys = append(keys, fmt.Sprintf("ON %q", r.On.Format(imapDateLayout)))
	}
	if !r.Since.IsZero() {
		keys = append(keys, fmt.Sprintf("SINCE %q", r.Since.Format(imapDateLayout)))
	}
	if !r.Before.IsZero() {
		keys = append(keys, fmt.Sprintf("BEFORE %q", r.Before.AddDate(0, 0, 1).Format(imapDateLayout)))
	}
	return keys
}

// ISO is the canonical local verification form: "2012-12-21" for a single
// day, "2012-04-01..2012-10-31" for a range, open ends left empty.
func (r Range) ISO() string {
	if !r.On.IsZero() {
		return r.On.Format(isoDateLayout)
	}
	var since, before string
	if !r.Since.IsZero() {
		since = r.Since.Format(isoDateLayout)
	}
	if !r.Before.IsZero() {
		before = r.Before.Format(isoDateLayout)
	}
	return since + ".." + before
}

// Contains reports whether the calendar date of t, in t's own location, falls
// within the range. Servers may over-match date searches (time zones, day
// granularity), so fetched messages are checked again with this.
func (r Range) Contains(t time.Time) bool {
	day := t.Format(isoDateLayout)
	if !r.On.IsZero() {
		return day == r.On.Format(isoDateLayout)
	}
	if !r.Since.IsZero() && day < r.Since.Format(isoDateLayout) {
		return false
	}
	if !r.Before.IsZero() && day > r.Before.Format(isoDateLayout) {
		return false
	}
	return true
}

func (r Range) String() string {
	if r.IsZero() {
		return "all"
	}
	return r.ISO()
}
