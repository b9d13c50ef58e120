package ephemeral

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pvarki/takrmapi/interfaces"
)

// KeyEnvVar holds the base64 encoded link key.
const KeyEnvVar = "TAKRMAPI_SECRET_KEY"

// KeySize is the AES-256 key length.
const KeySize = 32

// KeySource yields the base64 encoded key material.
type KeySource interface {
	FetchKey(ctx context.Context) (string, error)
}

// EnvSource reads the key from an environment variable.
type EnvSource struct {
	Name string
}

func (e EnvSource) FetchKey(ctx context.Context) (string, error) {
	name := e.Name
	if name == "" {
		name = KeyEnvVar
	}
	return os.Getenv(name), nil
}

// DecodeKey validates raw key material. Values that are not base64 or
// decode to fewer than KeySize bytes are treated as unset; longer values
// are truncated to KeySize.
func DecodeKey(raw string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64: %w", interfaces.ErrKeyUnset)
	}
	if len(decoded) < KeySize {
		return nil, fmt.Errorf("key is %d bytes, need at least %d: %w", len(decoded), KeySize, interfaces.ErrKeyUnset)
	}
	return decoded[:KeySize], nil
}

// GenerateKey returns fresh base64 key material for KeyEnvVar.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// KeyProvider caches the link key for the process lifetime after the first
// successful load. Failed loads are not cached.
type KeyProvider struct {
	mu     sync.Mutex
	source KeySource
	key    []byte
	log    *slog.Logger
}

func NewKeyProvider(source KeySource, log *slog.Logger) *KeyProvider {
	return &KeyProvider{source: source, log: log}
}

// Key returns the validated key, loading it on first use.
func (p *KeyProvider) Key(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key, nil
	}

	raw, err := p.source.FetchKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching ephemeral key: %w", err)
	}
	key, err := DecodeKey(raw)
	if err != nil {
		p.log.Warn("Ephemeral key rejected", "err", err)
		return nil, err
	}
	p.key = key
	return key, nil
}

// Reset drops the cached key so the next call reloads it.
func (p *KeyProvider) Reset() {
	p.mu.Lock()
	p.key = nil
	p.mu.Unlock()
}
