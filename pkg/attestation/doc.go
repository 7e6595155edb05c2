// Package attestation verifies hardware-backed device attestations.
//
// A device proves that its signing key lives in secure hardware by
// presenting an attestation object issued by the platform. Verification
// establishes three facts before the key is trusted:
//
//  1. the certificate chain in the object ends at a pinned platform root
//  2. the leaf certificate is bound to this service's app identity and to
//     the key the device claims
//  3. the leaf commits to a server-issued, single-use challenge
//
// # Failure Policy
//
// Input that cannot be decoded is rejected with [ErrAttestationMalformed].
// Every later failure (untrusted chain, identity mismatch, stale or reused
// challenge) is a soft failure: [Verifier.VerifyRegistration] returns a
// [Result] with level unverified and a reason, and a nil error. A weak proof
// lowers trust; it does not abort processing.
//
// # Per-Capture Assertions
//
// After registration a device may sign each capture with its attested key.
// [Verifier.Check] turns the device's attestation level and the optional
// assertion into the hardware_attestation evidence result.
package attestation
