// Package pagestore defines the interface boundary to the physical page
// store underneath the object-persistence layer. The object layer does not
// care how pages reach disk; it requires exactly two guarantees from an
// implementation:
//
//   - atomic multi-key commits, totally ordered by a commit sequence number
//   - consistent point-in-time reads as of any retained sequence number,
//     concurrent with a single writer
//
// The grove engine (see the engines/grove subpackage) is the bundled
// implementation. Alternative engines can be injected at database open time
// through the Factory type, provided they pass the conformance suite in the
// testing subpackage.
package pagestore
