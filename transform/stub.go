package transform

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
)

const (
	HeaderExternalURL = "X-Mozilla-External-Attachment-URL"
	HeaderAltered     = "X-Mozilla-Altered"

	detachedMarker     = "AttachmentDetached"
	internalDateLayout = "02-Jan-2006 15:04:05 -0700"
	stubIntro          = "You deleted an attachment from this message. The original MIME headers for the attachment were:"
)

// IsDetached reports whether n is a stub left by an earlier detach.
func IsDetached(n *Node) bool {
	return strings.Contains(n.Header.Get(HeaderAltered), detachedMarker)
}

// Stub returns the part that replaces n once its payload lives at path. It
// keeps n's headers minus Content-Transfer-Encoding, restates them as the
// body and adds the external location and the detach marker.
func Stub(n *Node, path string, at time.Time) *Node {
	var (
		lines []string
		raws  [][]byte
	)
	fields := n.Header.Fields()
	for fields.Next() {
		lines = append(lines, fields.Key()+": "+fields.Value())
		if strings.EqualFold(fields.Key(), "Content-Transfer-Encoding") {
			continue
		}
		raw, err := fields.Raw()
		if err != nil {
			continue
		}
		raws = append(raws, raw)
	}

	// Add and AddRaw insert at the top, so fields go in bottom first.
	var h textproto.Header
	h.Add(HeaderAltered, fmt.Sprintf("%s; date=%q", detachedMarker, at.Format(internalDateLayout)))
	h.Add(HeaderExternalURL, FileURL(path))
	for i := len(raws) - 1; i >= 0; i-- {
		h.AddRaw(raws[i])
	}

	body := stubIntro + "\r\n" + strings.Join(lines, "\r\n") + "\r\n"
	return &Node{Header: h, Body: []byte(body)}
}

// FileURL turns a local path into a file:// URL.
func FileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
