// Package sizeunit converts between byte counts and human readable size labels
// such as "100K" or "1.5MB". Multiples are binary (1K = 1024 bytes).
package sizeunit

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidSize   = errors.New("invalid size label")
	ErrInvalidSuffix = errors.New("invalid size suffix")
	ErrSizeOverflow  = errors.New("size label exceeds int64")
)

const suffix = "B"

var units = []string{"", "K", "M", "G", "T", "P", "E", "Z"}

// the optional trailing group catches any letter so a wrong suffix is reported as such
var labelPattern = regexp.MustCompile(`^(\d[\d.]*)\s*([KMGTPEZ])?([A-Za-z]+)?$`)

// Parse returns the number of bytes described by label.
func Parse(label string) (int64, error) {
	label = strings.TrimSpace(label)
	match := labelPattern.FindStringSubmatch(label)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, label)
	}
	if match[3] != "" && match[3] != suffix && match[3] != "i"+suffix {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSuffix, match[3])
	}

	size, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, label)
	}

	for _, unit := range units[1:] {
		if match[2] == "" {
			break
		}
		size *= 1024
		if unit == match[2] {
			break
		}
	}

	if size >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", ErrSizeOverflow, label)
	}
	return int64(size), nil
}

// Format renders n with one decimal and the largest unit keeping the value below 1024,
// e.g. 102400 -> "100.0KB".
func Format(n int64) string {
	num := float64(n)
	for _, unit := range units {
		if math.Abs(num) < 1024 {
			return fmt.Sprintf("%3.1f%s%s", num, unit, suffix)
		}
		num /= 1024
	}
	return fmt.Sprintf("%.1fYi%s", num, suffix)
}
