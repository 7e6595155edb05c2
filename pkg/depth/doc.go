// Package depth analyzes a depth map and its aligned color image for signs
// of a real three-dimensional scene.
//
// A photograph of a physical scene carries depth that varies, clusters into
// distinct surfaces and changes where the image changes. A recapture of a
// screen or print is flat and often shows the display's pixel grid. The
// Analyzer measures both and applies a threshold rule:
//
//	variance > VarianceMin && layers >= LayersMin &&
//	coherence > CoherenceMin && !periodic
//
// All thresholds come from [Config]. Missing or degenerate input yields an
// unavailable result rather than a failure.
//
// Depth maps travel in the RCDM container handled by [EncodeMap] and
// [DecodeMap]: a 16-byte header followed by little-endian float32 samples,
// optionally zstd-compressed.
package depth
