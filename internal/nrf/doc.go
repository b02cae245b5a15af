// Package nrf implements the Normalized Representation Format: the
// unique deterministic byte encoding of a chip document, and the
// content identifiers derived from it.
//
// The trust chain starts here. Every chip, receipt, and policy trace is
// identified by the blake3 hash of its NRF bytes, so the encoding must
// be byte-exact across processes and time:
//
//   - Object keys sorted by UTF-16 code units (RFC 8785 ordering)
//   - Strings NFC-normalized, no HTML escaping
//   - Integers only; raw floats are rejected, non-integer numbers
//     travel as canonical decimal strings (Dec)
//   - null forbidden, duplicate keys forbidden, invalid UTF-8 forbidden
//
// Both Decode and MarshalCanonical are pure: no I/O, no clock, no
// environment. Ambiguous input has no canonical form and fails closed.
package nrf
