package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/pvarki/takrmapi/interfaces"
)

// DefaultVaultField is the KV v2 field holding the ephemeral link key.
const DefaultVaultField = "key"

// VaultBackend reads a single secret field from HashiCorp Vault's KV v2
// engine. It satisfies ephemeral.KeySource.
//
// Authentication uses the VAULT_TOKEN environment variable picked up by the
// Vault client, and optionally a TLS client certificate.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	field       string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault secret source.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path of the secret within the mount (e.g. "takrmapi")
//   - field: Key inside the secret data map
//   - clientCert: optional TLS client certificate
//   - log: Structured logger
func NewVaultBackend(address, mountPath, dataPath, field string, clientCert *tls.Certificate, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	if clientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*clientCert},
				},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")
	if field == "" {
		field = DefaultVaultField
	}

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		field:       field,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// SetToken overrides the token taken from the environment.
func (b *VaultBackend) SetToken(token string) {
	b.client.SetToken(token)
}

// FetchKey returns the configured field of the secret as a string.
// A missing secret or field yields ErrContentNotFound.
func (b *VaultBackend) FetchKey(ctx context.Context) (string, error) {
	start := time.Now()
	path := fmt.Sprintf("%s/data/%s", b.mountPath, b.dataPath)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Secret not found in Vault", slog.String("path", path))
		return "", interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid data format in Vault response")
	}

	value, ok := data[b.field].(string)
	if !ok {
		b.log.Debug("Field not found in Vault secret",
			slog.String("path", path),
			slog.String("field", b.field))
		return "", interfaces.ErrContentNotFound
	}

	b.log.Info("Fetched secret from Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return value, nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
