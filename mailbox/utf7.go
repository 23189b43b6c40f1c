// Package mailbox handles IMAP folder names: the modified UTF-7 wire form
// (RFC 3501 section 5.1.3) and the local directory layout derived from a name.
package mailbox

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	ErrMissingTerminator = errors.New("mailbox: base64 section missing '-'")
	ErrBadBase64         = errors.New("mailbox: invalid base64 section")
	ErrBadUTF16          = errors.New("mailbox: invalid UTF-16 data")
)

// '+' and ',' replace '+' and '/' of the standard alphabet.
var b64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").WithPadding(base64.NoPadding)

func printable(r rune) bool {
	return r >= 0x20 && r <= 0x7e
}

// Encode converts a UTF-8 folder name to modified UTF-7.
func Encode(name string) string {
	var (
		buf     strings.Builder
		pending []uint16
	)
	buf.Grow(len(name))

	flush := func() {
		if len(pending) == 0 {
			return
		}
		raw := make([]byte, 0, len(pending)*2)
		for _, unit := range pending {
			raw = append(raw, byte(unit>>8), byte(unit))
		}
		buf.WriteByte('&')
		buf.WriteString(b64.EncodeToString(raw))
		buf.WriteByte('-')
		pending = pending[:0]
	}

	for _, r := range name {
		if !printable(r) {
			pending = append(pending, utf16.Encode([]rune{r})...)
			continue
		}
		flush()
		if r == '&' {
			buf.WriteString("&-")
		} else {
			buf.WriteRune(r)
		}
	}
	flush()

	return buf.String()
}

// Decode converts a modified UTF-7 folder name back to UTF-8.
func Decode(wire string) (string, error) {
	chunks := strings.Split(wire, "&")

	var buf strings.Builder
	buf.Grow(len(wire))
	buf.WriteString(chunks[0])

	for _, chunk := range chunks[1:] {
		end := strings.IndexByte(chunk, '-')
		if end < 0 {
			return "", fmt.Errorf("%w in %q", ErrMissingTerminator, wire)
		}
		payload, rest := chunk[:end], chunk[end+1:]

		if payload == "" {
			buf.WriteByte('&')
		} else {
			text, err := decodePayload(payload)
			if err != nil {
				return "", fmt.Errorf("%w in %q", err, wire)
			}
			buf.WriteString(text)
		}
		buf.WriteString(rest)
	}

	return buf.String(), nil
}

func decodePayload(payload string) (string, error) {
	raw, err := b64.DecodeString(payload)
	if err != nil {
		return "", ErrBadBase64
	}
	if len(raw)%2 != 0 {
		return "", ErrBadUTF16
	}

	var buf strings.Builder
	for i := 0; i < len(raw); i += 2 {
		r := rune(uint16(raw[i])<<8 | uint16(raw[i+1]))
		if utf16.IsSurrogate(r) {
			if i+3 >= len(raw) {
				return "", ErrBadUTF16
			}
			i += 2
			r = utf16.DecodeRune(r, rune(uint16(raw[i])<<8|uint16(raw[i+1])))
			if r == utf8.RuneError {
				return "", ErrBadUTF16
			}
		}
		buf.WriteRune(r)
	}
	return buf.String(), nil
}

// Canonical returns the decoded form of name when name is a well-formed wire
// name, and name itself otherwise. Names read from configuration may be in
// either form.
func Canonical(name string) string {
	if !strings.Contains(name, "&") {
		return name
	}
	decoded, err := Decode(name)
	if err != nil || Encode(decoded) != name {
		return name
	}
	return decoded
}
