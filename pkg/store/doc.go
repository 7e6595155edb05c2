// Package store provides SQLite-based persistence for the capture provenance
// service.
//
// The store manages:
//
//   - Devices: registered public keys, attestation level and the monotonic
//     request counter
//   - Challenges: single-use attestation nonces
//   - Admissions: one row per accepted submission, written in the same
//     transaction that advances the device counter
//   - Evidence: append-only evidence packages with their confidence level and
//     signed manifest
//   - Audit: log of security-relevant events keyed by correlation id
//
// # Usage
//
//	db, err := store.Open("realitycam.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// # Thread Safety
//
// The store is safe for concurrent use, including from several processes
// sharing one database file. WAL mode lets readers proceed while a writer
// holds the lock; writers serialize on SQLite's database lock, which is what
// makes the counter compare-and-swap in [Store.AdmitSubmission] atomic.
package store
