// Package interfaces defines the types, sentinel errors and collaborator
// interfaces shared across the TAK integration service, separating interface
// definitions from their implementations.
//
// # Identity Types
//
// User mirrors the enrollment authority's user payload (uuid, callsign and
// the CFSSL-escaped device certificate). ClientDN is the parsed subject of the
// caller's mutual-TLS certificate.
//
// # Collaborator Interfaces
//
// Authority: the enrollment authority's CSR signing and revocation endpoints.
//
// TakAPI: the tactical server's management REST API, every call normalized to
// a Result with a success flag.
//
// ScriptRunner: the legacy provisioning shell scripts.
//
// TemplateStore: a read-only tree of template files that can be mirrored into
// the local override directory.
//
// # Errors
//
// Errors are classified with errors.Is against the sentinels in errors.go.
// ErrNotFound deliberately covers every ephemeral token failure so that
// callers cannot tell an expired link from a forged one.
package interfaces
