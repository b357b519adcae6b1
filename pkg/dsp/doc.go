// Package dsp provides the small numeric building blocks used by the
// pipeline stages: RMS energy, a bounded circular sample buffer and a
// threshold detector with hysteresis.
//
// Everything in this package is pure computation with no I/O. None of the
// types are safe for concurrent use; each stage owns its own instances.
package dsp
