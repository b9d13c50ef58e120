// Package ephemeral issues and redeems short-lived capability tokens that
// let an unauthenticated request download a user's package.
//
// # Token format
//
// A token is the unpadded base64url encoding of the JSON envelope
//
//	{"payload_b64": ..., "iv_b64": ..., "request_time": 1700000000, "digest": ...}
//
// where payload_b64 is the AES-256-GCM ciphertext (tag included) of the
// compact JSON claims {"uuid","callsign","variant"}, iv_b64 the 96-bit
// nonce, request_time the issue time in Unix seconds and digest the hex
// SHA-256 of payload_b64 || iv_b64 || request_time.
//
// The digest is not keyed. It only detects corruption in transit; the GCM
// tag is what prevents forgery.
//
// # Failure reporting
//
// Every redemption failure (malformed envelope, expired, digest mismatch,
// authentication failure, malformed claims) returns interfaces.ErrNotFound
// so that callers cannot tell the cases apart. Tokens are not tracked, so
// a token can be redeemed repeatedly until it expires.
//
// # Keys
//
// KeyProvider loads the 32-byte key from a KeySource once and caches it.
// EnvSource reads the base64 value of TAKRMAPI_SECRET_KEY.
package ephemeral
