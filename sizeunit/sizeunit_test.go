package sizeunit

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		label string
		want  int64
	}{
		{label: "0", want: 0},
		{label: "512", want: 512},
		{label: "512B", want: 512},
		{label: "100K", want: 100 * 1024},
		{label: "100KB", want: 100 * 1024},
		{label: "100KiB", want: 100 * 1024},
		{label: "1.5M", want: 1572864},
		{label: "2G", want: 2 << 30},
		{label: "1T", want: 1 << 40},
		{label: "1P", want: 1 << 50},
		{label: "1E", want: 1 << 60},
		{label: " 10M ", want: 10 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := Parse(tt.label)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.label, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.label, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		label string
		want  error
	}{
		{label: "", want: ErrInvalidSize},
		{label: "K", want: ErrInvalidSize},
		{label: "-1K", want: ErrInvalidSize},
		{label: "1.2.3K", want: ErrInvalidSize},
		{label: "10Kb", want: ErrInvalidSuffix},
		{label: "10X", want: ErrInvalidSuffix},
		{label: "1Z", want: ErrSizeOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			_, err := Parse(tt.label)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.label, err, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{n: 0, want: "0.0B"},
		{n: 1023, want: "1023.0B"},
		{n: 1024, want: "1.0KB"},
		{n: 102400, want: "100.0KB"},
		{n: 1572864, want: "1.5MB"},
		{n: 5 << 30, want: "5.0GB"},
	}

	for _, tt := range tests {
		if got := Format(tt.n); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatParseKeepsMagnitude(t *testing.T) {
	for _, label := range []string{"1K", "100K", "3M", "1.5M", "20G", "2T"} {
		size, err := Parse(label)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", label, err)
		}
		formatted := Format(size)
		again, err := Parse(formatted)
		if err != nil {
			t.Fatalf("Parse(Format(%q)) = Parse(%q) error = %v", label, formatted, err)
		}
		if again != size {
			t.Errorf("%q -> %q -> %d bytes, want %d", label, formatted, again, size)
		}
	}
}
