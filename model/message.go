package model

import (
	"strings"
	"time"
)

// Message is a candidate message fetched from the server.
type Message struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Size         int64
	Raw          []byte
}

// HasFlag reports whether flag is set on the message, ignoring case.
func (m Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// ExtractedFile describes an attachment written to the extraction directory.
type ExtractedFile struct {
	Path   string
	Name   string
	Size   int64
	SHA256 string
	// Part is the section number of the source part, e.g. "2" or "1.3".
	Part string
}
