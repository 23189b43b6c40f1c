// Package imap owns the single server connection of a run.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Danamir/imap-attachment-extractor/mailbox"
	"github.com/Danamir/imap-attachment-extractor/model"
	"github.com/Danamir/imap-attachment-extractor/structure"
)

// structureBatch bounds the number of UIDs per BODYSTRUCTURE fetch.
const structureBatch = 500

var (
	ErrNotSelected     = errors.New("no folder selected")
	ErrMessageNotFound = errors.New("message not found")
	ErrReleased        = errors.New("session released")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// Folder is one entry of the server's folder list.
type Folder struct {
	Name      string
	Wire      string
	Delimiter rune
	Attrs     []string
}

// Session is one logged-in connection. Commands are issued one at a time.
type Session struct {
	client    *imapclient.Client
	opts      Options
	logger    *slog.Logger
	stopClose func() bool

	selected string
	readOnly bool
	released bool
}

// Dial connects over TLS and logs in. Cancelling ctx closes the connection.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}

	client, err := imapclient.DialTLS(address, options)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username)
	}

	s := &Session{client: client, opts: opts, logger: logger}
	s.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	return s, nil
}

// Capabilities reports what the server announced after login.
func (s *Session) Capabilities() imapv2.CapSet {
	return s.client.Caps()
}

// Select opens folder, given either decoded or in modified UTF-7. A read-only
// selection never compacts the folder on release.
func (s *Session) Select(ctx context.Context, folder string, readOnly bool) (uint32, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	name := mailbox.Canonical(folder)
	data, err := s.client.Select(name, &imapv2.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", name, err)
	}

	s.selected, s.readOnly = name, readOnly
	if s.logger != nil {
		s.logger.Debug("folder selected", "folder", name, "messages", data.NumMessages, "readOnly", readOnly)
	}
	return data.NumMessages, nil
}

// Search returns the UIDs matching criteria in the selected folder.
func (s *Session) Search(ctx context.Context, criteria *imapv2.SearchCriteria) ([]uint32, error) {
	if err := s.readySelected(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.selected, err)
	}

	all := data.AllUIDs()
	uids := make([]uint32, 0, len(all))
	for _, uid := range all {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

// Structures fetches the BODYSTRUCTURE of every UID, in batches.
func (s *Session) Structures(ctx context.Context, uids []uint32) ([]structure.Record, error) {
	if err := s.readySelected(ctx); err != nil {
		return nil, err
	}

	records := make([]structure.Record, 0, len(uids))
	for start := 0; start < len(uids); start += structureBatch {
		end := min(start+structureBatch, len(uids))
		batch, err := s.fetchStructures(uids[start:end])
		if err != nil {
			return records, err
		}
		records = append(records, batch...)
		if err := ctx.Err(); err != nil {
			return records, err
		}
	}
	return records, nil
}

func (s *Session) fetchStructures(uids []uint32) ([]structure.Record, error) {
	fetchOpts := &imapv2.FetchOptions{
		UID:           true,
		BodyStructure: &imapv2.FetchItemBodyStructure{Extended: true},
	}

	fetchCmd := s.client.Fetch(uidSet(uids...), fetchOpts)
	defer fetchCmd.Close()

	var records []structure.Record
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skip structure", "seq", msg.SeqNum, "err", err)
			}
			continue
		}

		root := structure.FromIMAP(buf.BodyStructure)
		if root == nil {
			if s.logger != nil {
				s.logger.Warn("skip structure", "uid", buf.UID, "err", structure.ErrNotBodyStructure)
			}
			continue
		}
		records = append(records, structure.Record{SeqNum: buf.SeqNum, UID: uint32(buf.UID), Root: root})
	}

	if err := fetchCmd.Close(); err != nil {
		return records, fmt.Errorf("fetch structures: %w", err)
	}
	return records, nil
}

// FetchMessage downloads flags, internal date and the full body of uid without
// setting \Seen.
func (s *Session) FetchMessage(ctx context.Context, uid uint32) (model.Message, error) {
	if err := s.readySelected(ctx); err != nil {
		return model.Message{}, err
	}

	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imapv2.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return model.Message{}, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}

	buf, err := msg.Collect()
	if err != nil {
		return model.Message{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}

	// drain so the command completes before the next one is sent
	for fetchCmd.Next() != nil {
	}
	if err := fetchCmd.Close(); err != nil {
		return model.Message{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return model.Message{}, fmt.Errorf("uid %d: empty body: %w", uid, ErrMessageNotFound)
	}

	flags := make([]string, 0, len(buf.Flags))
	for _, f := range buf.Flags {
		flags = append(flags, string(f))
	}

	return model.Message{
		UID:          uint32(buf.UID),
		Flags:        flags,
		InternalDate: buf.InternalDate,
		Size:         buf.RFC822Size,
		Raw:          raw,
	}, nil
}

// Append stores raw in the selected folder with the given flags and internal date.
func (s *Session) Append(ctx context.Context, raw []byte, flags []string, date time.Time) error {
	if err := s.readySelected(ctx); err != nil {
		return err
	}

	opts := &imapv2.AppendOptions{Time: date}
	for _, f := range flags {
		opts.Flags = append(opts.Flags, imapv2.Flag(f))
	}

	cmd := s.client.Append(s.selected, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

// MarkDeleted sets \Deleted on uid.
func (s *Session) MarkDeleted(ctx context.Context, uid uint32) error {
	if err := s.readySelected(ctx); err != nil {
		return err
	}

	storeCmd := s.client.Store(uidSet(uid), &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store \\Deleted on uid %d: %w", uid, err)
	}
	return nil
}

// Expunge permanently removes messages marked \Deleted from the selected folder.
func (s *Session) Expunge(ctx context.Context) error {
	if err := s.readySelected(ctx); err != nil {
		return err
	}
	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge %s: %w", s.selected, err)
	}
	return nil
}

// List returns every folder on the server.
func (s *Session) List(ctx context.Context) ([]Folder, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	folders := make([]Folder, 0, len(data))
	for _, d := range data {
		f := Folder{Name: d.Mailbox, Wire: mailbox.Encode(d.Mailbox), Delimiter: d.Delim}
		for _, attr := range d.Attrs {
			f.Attrs = append(f.Attrs, string(attr))
		}
		folders = append(folders, f)
	}
	return folders, nil
}

// Delimiter returns the hierarchy delimiter of folder, mailbox.DefaultDelimiter
// when the server reports none.
func (s *Session) Delimiter(ctx context.Context, folder string) (rune, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	data, err := s.client.List("", mailbox.Canonical(folder), nil).Collect()
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", folder, err)
	}
	for _, d := range data {
		if d.Delim != 0 {
			return d.Delim, nil
		}
	}
	return mailbox.DefaultDelimiter, nil
}

// Release leaves the session on every exit path: a folder selected writable
// is closed with compaction, a read-only one without, then the connection is
// logged out and closed. Calling it twice is a no-op.
func (s *Session) Release() {
	if s.released {
		return
	}
	s.released = true

	closedByContext := !s.stopClose()

	if !closedByContext && s.selected != "" {
		var err error
		if s.readOnly {
			err = s.client.Unselect().Wait()
		} else {
			err = s.client.UnselectAndExpunge().Wait()
		}
		if err != nil && s.logger != nil {
			s.logger.Warn("imap close folder failed", "folder", s.selected, "err", err)
		}
	}

	if !closedByContext {
		if err := s.client.Logout().Wait(); err != nil && s.logger != nil {
			s.logger.Warn("imap logout failed", "err", err)
		}
	}
	if err := s.client.Close(); err != nil && s.logger != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
}

func (s *Session) ready(ctx context.Context) error {
	if s.released {
		return ErrReleased
	}
	return ctx.Err()
}

func (s *Session) readySelected(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if s.selected == "" {
		return ErrNotSelected
	}
	return nil
}

func uidSet(uids ...uint32) imapv2.UIDSet {
	set := make([]imapv2.UID, 0, len(uids))
	for _, uid := range uids {
		set = append(set, imapv2.UID(uid))
	}
	return imapv2.UIDSetNum(set...)
}
