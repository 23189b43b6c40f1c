package daterange

import (
	imapv2 "github.com/emersion/go-imap/v2"
)

// CapGmail is advertised by Gmail servers.
const CapGmail imapv2.Cap = "X-GM-EXT-1"

// Capabilities is the subset of imapv2.CapSet used to pick a dialect.
type Capabilities interface {
	Has(c imapv2.Cap) bool
}

// SearchOptions carries run parameters a dialect may fold into the search.
type SearchOptions struct {
	// MinSize is the attachment extraction threshold in bytes.
	MinSize int64
}

// Dialect turns a compiled range into the search criteria understood by a
// given kind of server.
type Dialect interface {
	Name() string
	Criteria(r Range, opts SearchOptions) *imapv2.SearchCriteria
}

// SelectDialect picks the search dialect for a server from its capabilities.
func SelectDialect(caps Capabilities) Dialect {
	if caps != nil && caps.Has(CapGmail) {
		return Gmail{}
	}
	return Standard{}
}

// Standard searches undeleted messages within the range bounds.
type Standard struct{}

func (Standard) Name() string { return "standard" }

func (Standard) Criteria(r Range, _ SearchOptions) *imapv2.SearchCriteria {
	criteria := &imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagDeleted},
	}
	if !r.On.IsZero() {
		criteria.Since = r.On
		criteria.Before = r.On.AddDate(0, 0, 1)
	}
	if !r.Since.IsZero() {
		criteria.Since = r.Since
	}
	if !r.Before.IsZero() {
		criteria.Before = r.Before.AddDate(0, 0, 1)
	}
	return criteria
}

// Gmail evaluates dates in the account time zone, so results are re-checked
// locally anyway; the message size is narrowed server side to skip mails that
// cannot hold an attachment above the threshold.
type Gmail struct{}

func (Gmail) Name() string { return "gmail" }

func (Gmail) Criteria(r Range, opts SearchOptions) *imapv2.SearchCriteria {
	criteria := Standard{}.Criteria(r, opts)
	if opts.MinSize > 0 {
		criteria.Larger = opts.MinSize
	}
	return criteria
}
