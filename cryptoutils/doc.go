// Package cryptoutils provides the certificate, key and container handling
// used when provisioning device users and building client packages.
//
// # Certificates and keys
//
// ParseCertificatesPEM splits a concatenated PEM chain into certificates,
// ignoring non-certificate blocks. ParsePrivateKeyPEM accepts PKCS#8,
// PKCS#1 and SEC 1 encodings. VerifyCertificate checks that a certificate
// carries the expected common name and matches a private key.
// CreateCSRWithRandomKey generates the per-user keypair and CSR submitted to
// the enrollment authority.
//
// # PKCS#12 containers
//
// EncodeTrustStore serializes a CA chain as a password-less trust store.
// EncodeIdentity serializes a certificate and key protected with a
// passphrase using the legacy RC2/3DES profile, which is the only profile
// older Android keystores import.
//
// # Symmetric encryption
//
// SealAESGCM and OpenAESGCM wrap AES-256-GCM with a random 96-bit nonce.
// The ciphertext includes the authentication tag.
package cryptoutils
