package mailbox

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "ascii", input: "INBOX", want: "INBOX"},
		{name: "spaces", input: "Sent Items", want: "Sent Items"},
		{name: "ampersand", input: "Tom & Jerry", want: "Tom &- Jerry"},
		{name: "latin", input: "Entwürfe", want: "Entw&APw-rfe"},
		{name: "japanese", input: "日本語", want: "&ZeVnLIqe-"},
		{name: "hierarchy", input: "INBOX/日本語", want: "INBOX/&ZeVnLIqe-"},
		{name: "euro", input: "€", want: "&IKw-"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.input); got != tt.want {
				t.Errorf("Encode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "INBOX", want: "INBOX"},
		{input: "&-", want: "&"},
		{input: "A&-B&-C", want: "A&B&C"},
		{input: "Entw&APw-rfe", want: "Entwürfe"},
		{input: "INBOX.&ZeVnLIqe-", want: "INBOX.日本語"},
	}

	for _, tt := range tests {
		got, err := Decode(tt.input)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Decode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{input: "Box&ZeVn", want: ErrMissingTerminator},
		{input: "&A-", want: ErrBadBase64},
		{input: "&AP-", want: ErrBadUTF16},
		{input: "&2D0-", want: ErrBadUTF16},
	}

	for _, tt := range tests {
		if _, err := Decode(tt.input); !errors.Is(err, tt.want) {
			t.Errorf("Decode(%q) error = %v, want %v", tt.input, err, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	names := []string{
		"INBOX",
		"Archive/2012",
		"R&D",
		"&&&",
		"Привет мир",
		"Entwürfe/Büro & Co",
		"📧 mail 📎",
		"mixed 日本 and ascii 語",
		"tab\tand\nnewline",
		"� replacement",
	}

	for _, name := range names {
		wire := Encode(name)
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("Decode(Encode(%q)) error = %v (wire %q)", name, err, wire)
		}
		if got != name {
			t.Errorf("Decode(Encode(%q)) = %q (wire %q)", name, got, wire)
		}
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "INBOX", want: "INBOX"},
		{input: "Entw&APw-rfe", want: "Entwürfe"},
		{input: "Tom & Jerry", want: "Tom & Jerry"},
		{input: "Entwürfe", want: "Entwürfe"},
	}

	for _, tt := range tests {
		if got := Canonical(tt.input); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSubdirPath(t *testing.T) {
	tests := []struct {
		name        string
		folder      string
		delim       rune
		ignoreInbox bool
		want        string
	}{
		{name: "inbox", folder: "INBOX", want: "Inbox"},
		{name: "nested", folder: "INBOX/receipts", want: filepath.Join("Inbox", "Receipts")},
		{name: "ignore inbox", folder: "INBOX/receipts", ignoreInbox: true, want: "Receipts"},
		{name: "ignore inbox alone", folder: "INBOX", ignoreInbox: true, want: "Inbox"},
		{name: "dot delimiter", folder: "INBOX.Work.2012", delim: '.', want: filepath.Join("Inbox", "Work", "2012")},
		{name: "dot segment", folder: "a/../b", want: filepath.Join("A", "_", "B")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubdirPath(tt.folder, tt.delim, tt.ignoreInbox); got != tt.want {
				t.Errorf("SubdirPath(%q) = %q, want %q", tt.folder, got, tt.want)
			}
		})
	}
}
