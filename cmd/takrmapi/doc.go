// Package main (cmd/takrmapi) runs the TAK integration API next to a TAK
// server in a deployment.
//
// On start the service reads the deployment manifest, loads its own mTLS
// client identity from the persistent folder and verifies that the
// ephemeral link key is available. The HTTP server comes up immediately but
// reports not ready until the TAK init sequence (mesh key, default mission,
// default device profile and its files) has finished.
//
// The API listener speaks plain HTTP behind the deployment's TLS
// terminating proxy; --trust-dn-header makes the proxy's X-ClientCert-DN
// header the caller identity.
//
// Every setting can be given as a flag or through the TI_* environment
// variables used by the container images. The link key is read from
// TAKRMAPI_SECRET_KEY unless --vault-key points to a Vault KV secret.
//
// Example usage:
//
//	takrmapi --listen-addr=0.0.0.0:8003 \
//	    --templates-path=/opt/templates \
//	    --trust-dn-header
//
// Generating link key material:
//
//	takrmapi genkey
package main
