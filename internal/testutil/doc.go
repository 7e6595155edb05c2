// Package testutil provides fixtures shared by package tests: a throwaway
// attestation CA that issues platform-shaped attestation objects and
// assertions, and synthetic scenes with matching depth and image data.
package testutil
