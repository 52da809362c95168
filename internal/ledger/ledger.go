package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record matches a hash or item ID lookup.
var ErrNotFound = errors.New("ledger record not found")

// Store is the interface for the append-only verification ledger.
// Both FileStore and PostgresStore implement this interface.
type Store interface {
	// Append finalises a candidate into a record: it assigns the next
	// sequence number, links previous_hash to the current tail, computes
	// entry_hash, and persists durably before the record becomes visible
	// to readers. On persistence failure the in-memory and on-disk views
	// are left unchanged.
	Append(ctx context.Context, c Candidate) (*Record, error)

	// GetByHash returns the record whose entry_hash equals hash.
	GetByHash(ctx context.Context, hash string) (*Record, error)

	// GetByItemID returns the record for the given item ID.
	GetByItemID(ctx context.Context, itemID string) (*Record, error)

	// List returns all records in sequence order.
	List(ctx context.Context) ([]*Record, error)

	// Len returns the number of records in the ledger.
	Len(ctx context.Context) (int, error)

	// Root returns the entry_hash of the most recent record, or ZeroHash
	// for an empty ledger.
	Root(ctx context.Context) (string, error)

	// VerifyChain walks the full ledger in order, checking each record's
	// recomputed entry hash and its previous-hash link. It returns
	// (true, 0) for an intact chain, or (false, seq) where seq is the
	// 1-based sequence number of the first violated record.
	VerifyChain(ctx context.Context) (bool, int, error)
}
