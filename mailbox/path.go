package mailbox

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultDelimiter is the hierarchy delimiter assumed when the server does not report one.
const DefaultDelimiter = '/'

// Segments splits a canonical folder name on the hierarchy delimiter, dropping empty segments.
func Segments(name string, delim rune) []string {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	parts := strings.Split(name, string(delim))
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// SubdirPath returns the directory, relative to the extraction root, used for
// attachments of folder: every segment capitalised ("INBOX/receipts" becomes
// "Inbox/Receipts"). With ignoreInbox a leading Inbox segment is dropped as long
// as another segment remains.
func SubdirPath(name string, delim rune, ignoreInbox bool) string {
	segments := Segments(name, delim)
	for i, segment := range segments {
		segments[i] = sanitize(capitalize(segment))
	}
	if ignoreInbox && len(segments) > 1 && segments[0] == "Inbox" {
		segments = segments[1:]
	}
	return filepath.Join(segments...)
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func sanitize(segment string) string {
	switch segment {
	case ".", "..":
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == filepath.Separator || r == '/' || r == 0 {
			return '_'
		}
		return r
	}, segment)
}
