// Package userdata locates the per-user keypair the service generates for
// each enrolled device and waits for it to appear on disk.
package userdata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pvarki/takrmapi/interfaces"
)

// Store roots the per-user directories at {Root}/{uuid}.
type Store struct {
	Root string
	Poll time.Duration
	log  *slog.Logger
}

func NewStore(root string, poll time.Duration, log *slog.Logger) *Store {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Store{Root: root, Poll: poll, log: log}
}

// Keypair addresses one user's files.
type Keypair struct {
	Dir      string
	Callsign string
}

// For returns the keypair location for a user. The uuid and callsign are
// used as path elements and must not contain separators.
func (s *Store) For(user interfaces.User) (Keypair, error) {
	if err := safeElement(user.UUID); err != nil {
		return Keypair{}, fmt.Errorf("user uuid: %w", err)
	}
	if err := safeElement(user.Callsign); err != nil {
		return Keypair{}, fmt.Errorf("user callsign: %w", err)
	}
	return Keypair{Dir: filepath.Join(s.Root, user.UUID), Callsign: user.Callsign}, nil
}

func (k Keypair) CertPath() string { return filepath.Join(k.Dir, k.Callsign+".pem") }
func (k Keypair) KeyPath() string  { return filepath.Join(k.Dir, k.Callsign+".key") }
func (k Keypair) CSRPath() string  { return filepath.Join(k.Dir, k.Callsign+".csr") }

// Exists reports whether both certificate and key are present.
func (k Keypair) Exists() bool {
	return fileExists(k.CertPath()) && fileExists(k.KeyPath())
}

// CertPEM reads the locally issued certificate.
func (k Keypair) CertPEM() ([]byte, error) {
	data, err := os.ReadFile(k.CertPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("local cert %s: %w", k.CertPath(), interfaces.ErrNotFound)
	}
	return data, err
}

// KeyPEM reads the private key.
func (k Keypair) KeyPEM() ([]byte, error) {
	data, err := os.ReadFile(k.KeyPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("private key %s: %w", k.KeyPath(), interfaces.ErrNotFound)
	}
	return data, err
}

// WaitForKeypair polls until both files exist or ctx is done. Callers bound
// the wait with a context deadline; expiry is reported as ErrTimeout.
func (s *Store) WaitForKeypair(ctx context.Context, k Keypair) error {
	ticker := time.NewTicker(s.Poll)
	defer ticker.Stop()

	for !k.Exists() {
		s.log.Debug("Waiting for keypair", "cert", k.CertPath(), "key", k.KeyPath())
		select {
		case <-ctx.Done():
			return fmt.Errorf("keypair for %s: %w", k.Callsign, interfaces.ErrTimeout)
		case <-ticker.C:
		}
	}
	return nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func safeElement(s string) error {
	if s == "" || s == "." || s == ".." || filepath.Base(s) != s {
		return fmt.Errorf("invalid path element %q", s)
	}
	return nil
}
