// Package store provides the durable SQLite backing for the trust
// pipeline: the nonce replay ledger, the single-row stage-secret
// record, and the append-only receipt chain.
//
// The store owns schema and transactions only. Admission policy
// (strict vs degraded), secret rotation ordering, and chain semantics
// live with their respective owners; this package guarantees
// atomicity of the individual operations they build on.
package store
