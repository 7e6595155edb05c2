// Package manifest produces the tamper-evident record of a capture's
// evidence and binds it to the media.
//
// A manifest is an in-toto Statement whose subject is the media digest and
// whose predicate carries the evidence package and confidence level. The
// statement is signed into a DSSE envelope and embedded in the media
// container. Other containers keep the envelope as a sidecar.
//
// # Container Binding
//
// JPEG files carry the envelope in APP11 segments placed after any APP0 and
// APP1 segments. Each segment starts with the identifier "RCMF\x00", a
// big-endian sequence number and segment count, and the SHA-256 of the whole
// envelope. PNG files carry it in an "rcMF" chunk right after IHDR. The
// chunk type is private and ancillary and marked unsafe to copy, so editors
// that rewrite the image drop it. Neither binding is a C2PA JUMBF box, and
// C2PA readers ignore both.
//
// The envelope is compact JSON exactly as [MarshalEnvelope] produces it.
// [ParseEnvelope] rejects any other encoding of the same envelope.
//
// Embedding is reversible. [Extract] returns the envelope and the media
// byte-for-byte as it was before [Embed], which is what the subject digest
// covers.
package manifest
