// Package reqauth authenticates signed capture submissions.
//
// A device signs every request with the key it registered. The signed bytes
// are the request timestamp (unix milliseconds, 8 bytes big-endian) followed by
// the SHA-256 digest of the request body:
//
//	signing input = uint64be(unix_ms) || SHA-256(body)
//
// ECDSA P-256 keys produce ASN.1 DER signatures over SHA-256(signing input);
// Ed25519 keys sign the signing input directly. The body carries a counter
// that must strictly increase per device.
//
// [Authenticator.Admit] runs the checks in a fixed order (device lookup,
// timestamp window, signature, counter) and stops at the first failure. The
// counter check and the counter write happen in one store transaction, so two
// concurrent requests carrying the same counter cannot both be admitted.
package reqauth
