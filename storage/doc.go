// Package storage provides read-only template stores and secret sources
// with pluggable backends.
//
// Template stores expose a tree of files addressed by slash-separated
// relative paths. They are used to pull a site override tree (the "addon"
// tier of the data package templates) from somewhere other than the local
// image before the service starts serving:
//
//   - File system storage for local development and testing
//   - S3-compatible storage for fleet-wide overrides
//
// Secret sources provide the ephemeral link key:
//
//   - Vault KV v2 storage with token or TLS client certificate authentication
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///srv/takrmapi/overrides/
//   - s3://bucket-name/prefix/?region=eu-north-1&endpoint=https://minio.local:9000
//   - vault://vault.example.com:8200/secret/takrmapi?field=key
//
// # Overlay Sync
//
// SyncOverlay copies every file of a store into a local directory, replacing
// files with the same relative path and leaving other files untouched:
//
//	factory := storage.NewStorageBackendFactory(logger)
//	loc, _ := interfaces.NewStorageBackendLocation("s3://site-overrides/tak/?region=eu-north-1")
//	store, err := factory.TemplateStoreFor(loc)
//	if err != nil {
//	    return err
//	}
//	n, err := storage.SyncOverlay(ctx, store, settings.TemplatesPath, logger)
//
// # Multi-Backend Example
//
// A MultiStore fetches from the first available mirror that has the file:
//
//	store, err := factory.CreateMultiStore([]interfaces.StorageBackendLocation{primary, mirror})
package storage
