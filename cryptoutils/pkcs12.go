package cryptoutils

import (
	"fmt"

	"software.sslmate.com/src/go-pkcs12"
)

// EncodeTrustStore serializes every certificate in chainPEM into a
// password-less PKCS#12 trust store, preserving order.
func EncodeTrustStore(chainPEM []byte) ([]byte, error) {
	certs, err := ParseCertificatesPEM(chainPEM)
	if err != nil {
		return nil, err
	}
	pfx, err := pkcs12.Passwordless.EncodeTrustStore(certs, "")
	if err != nil {
		return nil, fmt.Errorf("failed to encode trust store: %w", err)
	}
	return pfx, nil
}

// EncodeIdentity serializes a certificate and its private key into a
// PKCS#12 container protected with password. Extra certificates after the
// first in certPEM are included as the chain.
func EncodeIdentity(certPEM, keyPEM []byte, password string) ([]byte, error) {
	certs, err := ParseCertificatesPEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	pfx, err := pkcs12.Legacy.Encode(key, certs[0], certs[1:], password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	return pfx, nil
}
