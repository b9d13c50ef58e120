/*
Package api holds the HTTP surface of the TAK integration service.

It is organized into three subpackages:

 1. handlers - request processing for package downloads, ephemeral links,
    user lifecycle events, product interop and descriptions
 2. servers - HTTP server configuration and lifecycle management
 3. clients - outbound clients for the enrollment authority and the TAK
    server management API

This package itself only carries the server configuration and the JSON
request and response bodies shared by handlers and their callers.

# Authentication

Every route except the descriptions, health probes and ephemeral redemption
requires a client certificate. The TLS terminating proxy forwards the
verified subject in the X-ClientCert-DN header; a direct TLS connection
with a verified peer certificate is accepted as well. Interop enrollment is
additionally restricted to the enrollment authority's own CN.
*/
package api
