// Package mbox keeps a local copy of every message before it is rewritten on
// the server.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/spf13/afero"
)

// defaultSender fills the "From " separator line when the message has no usable sender.
const defaultSender = "MAILER-DAEMON"

type Backup struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	file    afero.File
	writer  *mboxlib.Writer
	written int
}

// OpenBackup opens path for appending, creating it and its directory when needed.
func OpenBackup(fsys afero.Fs, path string, logger *slog.Logger) (*Backup, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	existing, err := CountMessages(fsys, path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("inspect mbox: %w", err)
	}

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create mbox directory: %w", err)
	}
	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}

	if logger != nil {
		logger.Info("backing up original messages", "mbox", path, "existing", existing)
	}

	return &Backup{
		path:   path,
		logger: logger,
		file:   file,
		writer: mboxlib.NewWriter(file),
	}, nil
}

func (b *Backup) Path() string {
	return b.path
}

// Written is the number of messages appended by this Backup.
func (b *Backup) Written() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Write appends one raw message.
func (b *Backup) Write(from string, date time.Time, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writer == nil {
		return fmt.Errorf("mbox %s is closed", b.path)
	}

	from = strings.Trim(strings.TrimSpace(from), "<>")
	if from == "" || strings.ContainsAny(from, " \t") {
		from = defaultSender
	}
	if date.IsZero() {
		date = time.Now()
	}

	w, err := b.writer.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("mbox message header: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("mbox message body: %w", err)
	}
	b.written++
	return nil
}

func (b *Backup) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writer == nil {
		return nil
	}

	var firstErr error
	if err := b.writer.Close(); err != nil {
		firstErr = fmt.Errorf("close mbox writer: %w", err)
	}
	if err := b.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync mbox: %w", err)
	}
	if err := b.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox: %w", err)
	}
	b.writer, b.file = nil, nil

	if b.logger != nil {
		b.logger.Debug("mbox closed", "mbox", b.path, "written", b.written)
	}
	return firstErr
}

// Read iterates through the messages of an mbox file, calling fn with each
// raw message.
func Read(fsys afero.Fs, path string, fn func(raw []byte) error) error {
	file, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(raw); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(fsys afero.Fs, path string) (int, error) {
	count := 0
	err := Read(fsys, path, func([]byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Sender returns the bare address of the Return-Path or first From mailbox
// of a raw message, for the mbox separator line.
func Sender(raw []byte) string {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return ""
	}
	mh := mail.Header{Header: message.Header{Header: h}}

	if ids, err := mh.MsgIDList("Return-Path"); err == nil && len(ids) > 0 {
		return ids[0]
	}
	if addrs, err := mh.AddressList("From"); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return ""
}
