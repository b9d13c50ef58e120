package interfaces

import "errors"

var (
	// ErrNotFound is returned when a requested package, file or variant is
	// absent, and for every ephemeral token validation failure.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration is returned when default and override template trees
	// disagree on the file-vs-directory kind of a package.
	ErrConfiguration = errors.New("template configuration error")

	// ErrUnknownManifestDirective is returned for a manifest .p12 reference
	// that matches no known certificate generator.
	ErrUnknownManifestDirective = errors.New("unknown manifest directive")

	// ErrUpstream is returned when the authority or the tactical server
	// answers with a transport error or non-success status.
	ErrUpstream = errors.New("upstream request failed")

	// ErrTimeout is returned when a bounded wait (keypair availability,
	// shell command) expires.
	ErrTimeout = errors.New("operation timed out")

	// ErrKeyUnset is returned when the ephemeral link key is missing, not
	// valid base64, or shorter than 32 bytes.
	ErrKeyUnset = errors.New("ephemeral key not set")

	// ErrContentNotFound is returned when a template store has no object at
	// the requested path.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
