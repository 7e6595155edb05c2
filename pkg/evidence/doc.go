// Package evidence defines the tri-state check results produced by the
// capture verifiers and the confidence policy that turns them into a verdict.
//
// A CheckResult is a closed variant: it can only be built through [Pass],
// [Fail] or [Unavailable], so "the check could not run" and "the check ran
// and disagreed" are never represented by the same value.
//
// # Confidence Policy
//
// [Aggregate] evaluates an [Package] in strict order, first match wins:
//
//  1. any category failed: SUSPICIOUS
//  2. hardware attestation and scene analysis passed: HIGH
//  3. exactly one of them passed, the other unavailable: MEDIUM
//  4. otherwise: LOW
//
// Metadata only participates through rule 1.
package evidence
