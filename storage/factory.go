package storage

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pvarki/takrmapi/interfaces"
)

// StorageBackendFactory creates template stores and secret sources from
// location URIs.
type StorageBackendFactory struct {
	log        *slog.Logger
	clientCert *tls.Certificate
}

// NewStorageBackendFactory creates a new factory instance.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// WithClientCertificate sets the TLS client certificate presented to Vault.
func (sf *StorageBackendFactory) WithClientCertificate(cert tls.Certificate) *StorageBackendFactory {
	sf.clientCert = &cert
	return sf
}

// TemplateStoreFor creates a template store from a location URI.
//
// Supported schemes:
//   - file:// - Local filesystem
//   - s3:// - Amazon S3 or compatible object storage
func (sf *StorageBackendFactory) TemplateStoreFor(loc interfaces.StorageBackendLocation) (interfaces.TemplateStore, error) {
	u, err := url.Parse(loc.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		return sf.createS3Backend(u)
	case "file":
		return sf.createFileBackend(u)
	default:
		return nil, fmt.Errorf("%w: %s cannot hold templates", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiStore creates a mirrored template store from a list of location
// URIs. Locations that fail to parse are logged and skipped.
func (sf *StorageBackendFactory) CreateMultiStore(locs []interfaces.StorageBackendLocation) (interfaces.TemplateStore, error) {
	stores := make([]interfaces.TemplateStore, 0, len(locs))

	for _, loc := range locs {
		store, err := sf.TemplateStoreFor(loc)
		if err != nil {
			sf.log.Warn("Failed to create template store",
				"err", err,
				slog.String("locationURI", loc.String()))
			continue
		}
		stores = append(stores, store)
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("no valid template stores created")
	}
	if len(stores) == 1 {
		return stores[0], nil
	}

	return NewMultiStore(stores, sf.log), nil
}

// VaultSourceFor creates a Vault secret source.
// URI format: vault://host:port/mount/path?field=key&scheme=https
func (sf *StorageBackendFactory) VaultSourceFor(loc interfaces.StorageBackendLocation) (*VaultBackend, error) {
	u, err := url.Parse(loc.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	if strings.ToLower(u.Scheme) != "vault" {
		return nil, fmt.Errorf("%w: expected vault:// got %s", interfaces.ErrInvalidLocationURI, u.Scheme)
	}

	sf.log.Debug("Creating Vault source", slog.String("uri", u.Redacted()))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected vault://host/mount/path", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := query.Get("scheme")
	if scheme == "" {
		scheme = "https"
	}

	return NewVaultBackend(scheme+"://"+u.Host, parts[0], parts[1], query.Get("field"), sf.clientCert, sf.log)
}

// createS3Backend creates an S3 or S3-compatible template store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *StorageBackendFactory) createS3Backend(u *url.URL) (interfaces.TemplateStore, error) {
	sf.log.Debug("Creating S3 backend", slog.String("uri", u.Redacted()))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket name", interfaces.ErrInvalidLocationURI)
	}

	path := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucketName, path, region, query.Get("endpoint"), accessKey, secretKey, sf.log)
}

// createFileBackend creates a file system template store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(u *url.URL) (interfaces.TemplateStore, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}

	return NewFileBackend(path, sf.log)
}
