package transform

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

var ErrMalformedMessage = errors.New("malformed message")

// Node is one MIME entity. Leaves keep their body exactly as transmitted,
// transfer encoding included; multipart nodes keep their children instead.
type Node struct {
	Header   textproto.Header
	Body     []byte
	Children []*Node
	boundary string
}

// Parse reads a complete RFC 5322 message into a Node tree.
func Parse(raw []byte) (*Node, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedMessage, err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformedMessage, err)
	}
	return build(h, body)
}

func build(h textproto.Header, body []byte) (*Node, error) {
	n := &Node{Header: h}
	mediaType, params := n.contentType()
	boundary := params["boundary"]
	if !strings.HasPrefix(mediaType, "multipart/") || boundary == "" {
		n.Body = body
		return n, nil
	}

	n.boundary = boundary
	mr := textproto.NewMultipartReader(bytes.NewReader(body), boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		partBody, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("%w: part body: %v", ErrMalformedMessage, err)
		}
		child, err := build(p.Header, partBody)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
}

func (n *Node) Multipart() bool {
	return n.boundary != ""
}

func (n *Node) contentType() (string, map[string]string) {
	h := message.Header{Header: n.Header}
	t, params, err := h.ContentType()
	if err != nil || t == "" {
		return "text/plain", params
	}
	return strings.ToLower(t), params
}

// MediaType is the lower-cased media type, text/plain when absent or malformed.
func (n *Node) MediaType() string {
	t, _ := n.contentType()
	return t
}

// IsAttachment reports whether the disposition begins with "attachment".
func (n *Node) IsAttachment() bool {
	d := strings.TrimSpace(n.Header.Get("Content-Disposition"))
	return strings.HasPrefix(strings.ToLower(d), "attachment")
}

// Filename returns the declared filename decoded to UTF-8, or "".
func (n *Node) Filename() string {
	h := mail.AttachmentHeader{Header: message.Header{Header: n.Header}}
	name, _ := h.Filename()
	return strings.TrimSpace(name)
}

func (n *Node) Encoding() string {
	return strings.ToLower(strings.TrimSpace(n.Header.Get("Content-Transfer-Encoding")))
}

// Bytes serializes the tree. Leaf bodies are written unchanged.
func (n *Node) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := n.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := n.write(cw)
	return cw.n, err
}

func (n *Node) write(w io.Writer) error {
	if err := textproto.WriteHeader(w, n.Header); err != nil {
		return err
	}
	if !n.Multipart() {
		_, err := w.Write(n.Body)
		return err
	}

	for _, child := range n.Children {
		if _, err := io.WriteString(w, "--"+n.boundary+"\r\n"); err != nil {
			return err
		}
		if err := child.write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "--"+n.boundary+"--\r\n")
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
