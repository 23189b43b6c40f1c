// Package extract writes attachment payloads into the extraction directory
// under collision-free names.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Danamir/imap-attachment-extractor/model"
)

// maxDisambiguator bounds the "(NN)" search for a free name.
const maxDisambiguator = 9999

var (
	ErrDirEmpty   = errors.New("extraction directory is empty")
	ErrNoFreeName = errors.New("no free file name")
)

type Options struct {
	Dir    string
	DryRun bool
}

// Store hands out unique names in one directory and writes payloads to them.
// Names handed out earlier in the run stay reserved even when nothing was
// written, so dry runs resolve collisions the same way real runs do.
type Store struct {
	fs     afero.Fs
	dir    string
	dryRun bool
	logger *slog.Logger

	mu       sync.Mutex
	reserved map[string]struct{}
}

func New(fsys afero.Fs, opts Options, logger *slog.Logger) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, ErrDirEmpty
	}
	dir = filepath.Clean(dir)

	if !opts.DryRun {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create extraction directory: %w", err)
		}
	}

	return &Store{
		fs:       fsys,
		dir:      dir,
		dryRun:   opts.DryRun,
		logger:   logger,
		reserved: make(map[string]struct{}),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Name formats the target file name for an attachment saved on day. n > 0
// adds the two-digit disambiguator.
func Name(day time.Time, filename string, n int) string {
	if n == 0 {
		return fmt.Sprintf("%s - %s", day.Format(time.DateOnly), filename)
	}
	return fmt.Sprintf("%s (%02d) - %s", day.Format(time.DateOnly), n, filename)
}

// Save writes content under the first free name for filename on day.
func (s *Store) Save(day time.Time, filename string, content []byte) (model.ExtractedFile, error) {
	filename = SanitizeFilename(filename)

	s.mu.Lock()
	defer s.mu.Unlock()

	for n := 0; n <= maxDisambiguator; n++ {
		name := Name(day, filename, n)
		path := filepath.Join(s.dir, name)
		if _, taken := s.reserved[path]; taken {
			continue
		}
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			return model.ExtractedFile{}, fmt.Errorf("stat %s: %w", path, err)
		}
		if exists {
			continue
		}

		if !s.dryRun {
			err := s.write(path, content)
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			if err != nil {
				return model.ExtractedFile{}, err
			}
		}
		s.reserved[path] = struct{}{}

		sum := sha256.Sum256(content)
		file := model.ExtractedFile{
			Path:   path,
			Name:   name,
			Size:   int64(len(content)),
			SHA256: hex.EncodeToString(sum[:]),
		}
		if s.logger != nil {
			s.logger.Debug("attachment saved", "path", path, "size", file.Size, "dryRun", s.dryRun)
		}
		return file, nil
	}

	return model.ExtractedFile{}, fmt.Errorf("%w for %q in %s", ErrNoFreeName, filename, s.dir)
}

func (s *Store) write(path string, content []byte) error {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// SanitizeFilename makes a declared attachment name safe to use as a single
// path element.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	switch name {
	case "", ".", "..":
		return "_" + name
	}
	return name
}
