// Package structure decides, from a message's BODYSTRUCTURE alone, whether it
// may carry attachments worth downloading.
package structure

import (
	"errors"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
)

var ErrNotBodyStructure = errors.New("value is not a body structure")

// Part is one node of a message structure.
type Part struct {
	Type              string
	Subtype           string
	Params            map[string]string
	Encoding          string
	Size              uint32
	Disposition       string
	DispositionParams map[string]string
	Children          []*Part
	// Message is the structure of an embedded message/rfc822 part.
	Message *Part
}

func (p *Part) Multipart() bool {
	return strings.EqualFold(p.Type, "multipart")
}

func (p *Part) MediaType() string {
	return strings.ToLower(p.Type + "/" + p.Subtype)
}

// Walk visits p and its descendants depth first, embedded messages included.
// Returning false from fn stops the walk.
func (p *Part) Walk(fn func(*Part) bool) bool {
	if !fn(p) {
		return false
	}
	for _, child := range p.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	if p.Message != nil {
		return p.Message.Walk(fn)
	}
	return true
}

// fromValue interprets a parsed body list per RFC 3501 "body".
func fromValue(v value) (*Part, error) {
	if !v.isList() || len(v.list) == 0 {
		return nil, ErrNotBodyStructure
	}

	if v.at(0).isList() {
		part := &Part{Type: "multipart"}
		i := 0
		for ; i < len(v.list) && v.list[i].isList(); i++ {
			child, err := fromValue(v.list[i])
			if err != nil {
				return nil, err
			}
			part.Children = append(part.Children, child)
		}
		part.Subtype = v.at(i).str()
		part.Params = v.at(i + 1).params()
		part.Disposition, part.DispositionParams = disposition(v.at(i + 2))
		return part, nil
	}

	if len(v.list) < 7 {
		return nil, ErrNotBodyStructure
	}
	part := &Part{
		Type:     v.at(0).str(),
		Subtype:  v.at(1).str(),
		Params:   v.at(2).params(),
		Encoding: v.at(5).str(),
	}
	if size, err := strconv.ParseUint(v.at(6).str(), 10, 32); err == nil {
		part.Size = uint32(size)
	}

	ext := 7
	switch part.MediaType() {
	case "message/rfc822", "message/global":
		if embedded := v.at(8); embedded.isList() {
			if msg, err := fromValue(embedded); err == nil {
				part.Message = msg
			}
		}
		ext = 10
	default:
		if strings.EqualFold(part.Type, "text") {
			ext = 8
		}
	}

	// body-ext-1part: md5 then disposition
	part.Disposition, part.DispositionParams = disposition(v.at(ext + 1))
	return part, nil
}

func disposition(v value) (string, map[string]string) {
	if !v.isList() {
		return "", nil
	}
	return v.at(0).str(), v.at(1).params()
}

// FromIMAP converts the structure decoded by go-imap into a Part tree.
func FromIMAP(bs imapv2.BodyStructure) *Part {
	switch bs := bs.(type) {
	case *imapv2.BodyStructureSinglePart:
		part := &Part{
			Type:     bs.Type,
			Subtype:  bs.Subtype,
			Params:   bs.Params,
			Encoding: bs.Encoding,
			Size:     bs.Size,
		}
		if bs.Extended != nil && bs.Extended.Disposition != nil {
			part.Disposition = bs.Extended.Disposition.Value
			part.DispositionParams = bs.Extended.Disposition.Params
		}
		if bs.MessageRFC822 != nil && bs.MessageRFC822.BodyStructure != nil {
			part.Message = FromIMAP(bs.MessageRFC822.BodyStructure)
		}
		return part
	case *imapv2.BodyStructureMultiPart:
		part := &Part{Type: "multipart", Subtype: bs.Subtype}
		for _, child := range bs.Children {
			if c := FromIMAP(child); c != nil {
				part.Children = append(part.Children, c)
			}
		}
		if bs.Extended != nil {
			part.Params = bs.Extended.Params
			if bs.Extended.Disposition != nil {
				part.Disposition = bs.Extended.Disposition.Value
				part.DispositionParams = bs.Extended.Disposition.Params
			}
		}
		return part
	default:
		return nil
	}
}

// Detector matches structures against the attachment token set.
type Detector struct {
	tokens []string
}

// NewDetector matches "attachment" dispositions and "application" media types,
// plus "image" media types when inline images count as attachments.
func NewDetector(inlineImages bool) Detector {
	tokens := []string{"attachment", "application"}
	if inlineImages {
		tokens = append(tokens, "image")
	}
	return Detector{tokens: tokens}
}

// HasAttachment reports whether root is multipart and any part in it carries
// one of the tokens as media type or disposition, ignoring case.
func (d Detector) HasAttachment(root *Part) bool {
	if root == nil || !root.Multipart() {
		return false
	}
	found := false
	root.Walk(func(p *Part) bool {
		if d.match(p.Type) || d.match(p.Disposition) {
			found = true
			return false
		}
		return true
	})
	return found
}

func (d Detector) match(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range d.tokens {
		if strings.EqualFold(s, token) {
			return true
		}
	}
	return false
}
