// Package codec defines how values are converted to and from their storable
// byte form. A database is configured with two codecs at open time, one for
// object values and one for metadata values, selected independently.
//
// Three presets are provided:
//
//   - NewGobCodec: full object-graph fidelity via gob encoding. This is the
//     default for both objects and metadata. User types stored inside
//     interface values must be registered with Register.
//   - NewPropertyListCodec: restricted to primitive container types
//     (bool, string, numbers, slices, string-keyed maps). Faster than the
//     default and interchangeable with plain JSON configuration stores.
//   - NewTimestampCodec: a single time.Time scalar, fixed 12-byte binary
//     encoding. The fastest option, intended for timestamp-only metadata.
//
// Custom codecs can be supplied by implementing the ICodec interface. The
// only contract is the round trip: for any supported value v,
// Decode(Encode(v)) must yield an equal value.
package codec
