// Package credential finds the IMAP password: explicit value first, then the
// system keyring, then an interactive prompt.
package credential

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const serviceName = "imap_aex"

var ErrNoPassword = errors.New("no password available")

// Store is the subset of keyring.Keyring used here.
type Store interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
}

// Prompter reads a secret from the user.
type Prompter func(label string) (string, error)

// Key is the keyring entry name for an account.
func Key(host, login string) string {
	return host + "/" + login
}

// Open returns the system keyring for the service.
func Open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// SystemResolver uses the system keyring when one is available and prompts
// on out when stdin is a terminal.
func SystemResolver(out io.Writer, logger *slog.Logger) Resolver {
	r := Resolver{Prompt: TerminalPrompt(out)}
	ring, err := Open()
	if err != nil {
		if logger != nil {
			logger.Debug("keyring unavailable", "err", err)
		}
		return r
	}
	r.Store = ring
	return r
}

// Resolver looks the password up in order. A nil Store or Prompter skips that step.
type Resolver struct {
	Store  Store
	Prompt Prompter
}

func (r Resolver) Password(explicit, host, login string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if r.Store != nil {
		item, err := r.Store.Get(Key(host, login))
		switch {
		case err == nil && len(item.Data) > 0:
			return string(item.Data), nil
		case err != nil && !errors.Is(err, keyring.ErrKeyNotFound):
			return "", fmt.Errorf("getting credential %q: %w", Key(host, login), err)
		}
	}

	if r.Prompt != nil {
		password, err := r.Prompt(fmt.Sprintf("Password for %s on %s: ", login, host))
		if err != nil {
			return "", err
		}
		if password != "" {
			return password, nil
		}
	}

	return "", fmt.Errorf("%s on %s: %w", login, host, ErrNoPassword)
}

// Save stores password for host/login.
func Save(store Store, host, login, password string) error {
	if password == "" {
		return fmt.Errorf("refusing to store an empty password: %w", ErrNoPassword)
	}
	err := store.Set(keyring.Item{
		Key:         Key(host, login),
		Data:        []byte(password),
		Label:       "IMAP password for " + Key(host, login),
		Description: "imap-attachment-extractor",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", Key(host, login), err)
	}
	return nil
}

// TerminalPrompt reads a password from stdin without echo, or nil when stdin
// is not a terminal.
func TerminalPrompt(out io.Writer) Prompter {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(label string) (string, error) {
		fmt.Fprint(out, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
}
