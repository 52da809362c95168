// Package ledger implements the append-only, hash-chained verification
// ledger.
//
// Each record's entry_hash is the SHA-256 digest of a canonical JSON
// encoding of its content fields, and each record's previous_hash equals
// its predecessor's entry_hash (ZeroHash for the first record). Any
// mutation of a persisted record is detectable by recomputing the entry
// hash; any reordering or deletion breaks the previous-hash linkage found
// by VerifyChain.
//
// Two implementations of the Store interface are provided:
//   - FileStore: a single JSON document on disk, for single-process use.
//   - PostgresStore: durable, for production use.
//
// This is a local tamper-evidence log with a single writer, not a
// replicated blockchain: there is no consensus, no proof-of-work, and no
// multi-node coordination.
package ledger
