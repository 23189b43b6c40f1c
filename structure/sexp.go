package structure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnbalanced    = errors.New("unbalanced parentheses")
	ErrUnterminated  = errors.New("unterminated quoted string")
	ErrBadLiteral    = errors.New("malformed literal")
	ErrUnexpectedEnd = errors.New("unexpected end of input")
)

type kind int

const (
	kindAtom kind = iota
	kindString
	kindNil
	kindList
)

// value is one token of the IMAP response grammar: an atom, a quoted or
// literal string, NIL, or a parenthesised list.
type value struct {
	kind kind
	text string
	list []value
}

func (v value) isList() bool { return v.kind == kindList }

// str returns the text of a string or atom, "" for NIL and lists.
func (v value) str() string {
	if v.kind == kindString || v.kind == kindAtom {
		return v.text
	}
	return ""
}

func (v value) at(i int) value {
	if v.kind != kindList || i < 0 || i >= len(v.list) {
		return value{kind: kindNil}
	}
	return v.list[i]
}

// params decodes a body-fld-param list ("name" "value" ...) into a map with lower-cased keys.
func (v value) params() map[string]string {
	if !v.isList() || len(v.list) == 0 {
		return nil
	}
	m := make(map[string]string, len(v.list)/2)
	for i := 0; i+1 < len(v.list); i += 2 {
		m[strings.ToLower(v.list[i].str())] = v.list[i+1].str()
	}
	return m
}

type lexer struct {
	in  string
	pos int
}

// parseValues tokenises a complete response line.
func parseValues(in string) ([]value, error) {
	lx := &lexer{in: in}
	values, err := lx.sequence(false)
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (lx *lexer) sequence(nested bool) ([]value, error) {
	var values []value
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.in) {
			if nested {
				return nil, ErrUnbalanced
			}
			return values, nil
		}

		switch c := lx.in[lx.pos]; c {
		case '(':
			lx.pos++
			list, err := lx.sequence(true)
			if err != nil {
				return nil, err
			}
			values = append(values, value{kind: kindList, list: list})
		case ')':
			if !nested {
				return nil, ErrUnbalanced
			}
			lx.pos++
			return values, nil
		case '"':
			s, err := lx.quoted()
			if err != nil {
				return nil, err
			}
			values = append(values, value{kind: kindString, text: s})
		case '{':
			s, err := lx.literal()
			if err != nil {
				return nil, err
			}
			values = append(values, value{kind: kindString, text: s})
		default:
			atom := lx.atom()
			if strings.EqualFold(atom, "NIL") {
				values = append(values, value{kind: kindNil})
			} else {
				values = append(values, value{kind: kindAtom, text: atom})
			}
		}
	}
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.in) {
		switch lx.in[lx.pos] {
		case ' ', '\t', '\r', '\n':
			lx.pos++
		default:
			return
		}
	}
}

func (lx *lexer) quoted() (string, error) {
	var b strings.Builder
	lx.pos++
	for lx.pos < len(lx.in) {
		c := lx.in[lx.pos]
		switch c {
		case '\\':
			if lx.pos+1 >= len(lx.in) {
				return "", ErrUnterminated
			}
			b.WriteByte(lx.in[lx.pos+1])
			lx.pos += 2
		case '"':
			lx.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			lx.pos++
		}
	}
	return "", ErrUnterminated
}

// literal reads {n} followed by an optional CRLF and n octets.
func (lx *lexer) literal() (string, error) {
	n, next, err := literalLength(lx.in, lx.pos)
	if err != nil {
		return "", err
	}
	lx.pos = skipCRLF(lx.in, next)
	if lx.pos+n > len(lx.in) {
		return "", ErrUnexpectedEnd
	}
	s := lx.in[lx.pos : lx.pos+n]
	lx.pos += n
	return s, nil
}

func (lx *lexer) atom() string {
	start := lx.pos
	for lx.pos < len(lx.in) {
		switch lx.in[lx.pos] {
		case ' ', '\t', '\r', '\n', '(', ')', '"', '{':
			return lx.in[start:lx.pos]
		}
		// section specifiers such as BODY[1.2] may hold spaces inside brackets
		if lx.in[lx.pos] == '[' {
			if end := strings.IndexByte(lx.in[lx.pos:], ']'); end >= 0 {
				lx.pos += end + 1
				continue
			}
		}
		lx.pos++
	}
	return lx.in[start:lx.pos]
}

// literalLength parses "{n}" or "{n+}" at pos and returns n and the offset after '}'.
func literalLength(in string, pos int) (int, int, error) {
	end := strings.IndexByte(in[pos:], '}')
	if end < 0 {
		return 0, 0, ErrBadLiteral
	}
	digits := strings.TrimSuffix(in[pos+1:pos+end], "+")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadLiteral, in[pos:pos+end+1])
	}
	return n, pos + end + 1, nil
}

func skipCRLF(in string, pos int) int {
	if strings.HasPrefix(in[pos:], "\r\n") {
		return pos + 2
	}
	if strings.HasPrefix(in[pos:], "\n") {
		return pos + 1
	}
	return pos
}

// closed reports whether in is a syntactically complete record: at least one
// list opened, every list closed and no literal still waiting for octets.
func closed(in string) bool {
	st := balance(in)
	return !st.broken && !st.literal && st.opened && st.depth <= 0
}

// awaitingLiteral reports whether in ends inside the octets of a literal,
// where a following line is data rather than a new response.
func awaitingLiteral(in string) bool {
	return balance(in).literal
}

type balanceState struct {
	depth  int
	opened bool
	// literal is set when the last literal announced more octets than follow.
	literal bool
	// broken is set by an unterminated quoted string or a malformed literal.
	broken bool
}

func balance(in string) balanceState {
	var st balanceState
	for i := 0; i < len(in); i++ {
		switch in[i] {
		case '"':
			for i++; i < len(in) && in[i] != '"'; i++ {
				if in[i] == '\\' {
					i++
				}
			}
			if i >= len(in) {
				st.broken = true
				return st
			}
		case '{':
			n, next, err := literalLength(in, i)
			if err != nil {
				st.broken = true
				return st
			}
			next = skipCRLF(in, next)
			if next+n > len(in) {
				st.literal = true
				return st
			}
			i = next + n - 1
		case '(':
			st.depth++
			st.opened = true
		case ')':
			st.depth--
		}
	}
	return st
}
