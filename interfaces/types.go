package interfaces

import (
	"strings"
)

// User is the authority's description of an enrolled device user.
type User struct {
	// UUID is the authority's stable identifier for the user.
	UUID string `json:"uuid"`

	// Callsign is the display name, also used as certificate CN and
	// PKCS12 passphrase.
	Callsign string `json:"callsign"`

	// X509Cert is the authority-issued certificate with newlines escaped
	// as literal "\n" (CFSSL convention).
	X509Cert string `json:"x509cert"`
}

// CertPEM returns X509Cert with the CFSSL newline escaping undone.
func (u User) CertPEM() string {
	return strings.ReplaceAll(u.X509Cert, `\n`, "\n")
}

// ClientDN is the parsed distinguished name of the caller's client certificate.
type ClientDN map[string]string

// CN returns the common name component.
func (dn ClientDN) CN() string {
	return dn["CN"]
}

// ParseClientDN parses an RFC 4514 style "CN=x,O=y" string. Escaped commas
// are not supported; the authority never issues them.
func ParseClientDN(raw string) ClientDN {
	dn := ClientDN{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		dn[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return dn
}

// OperationResult is the generic success/failure response body.
type OperationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Extra   string `json:"extra,omitempty"`
}
