package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all writers sharing the database.
const advisoryLockKey = int64(7_415_092_331)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS verification_ledger (
	seq             INTEGER PRIMARY KEY,
	item_id         TEXT NOT NULL UNIQUE,
	label           TEXT NOT NULL,
	oracle_scores   JSONB NOT NULL,
	content_digest  TEXT NOT NULL,
	content_preview TEXT NOT NULL,
	ts              TEXT NOT NULL,
	prev_hash       TEXT NOT NULL,
	entry_hash      TEXT NOT NULL UNIQUE
)`

// PostgresStore persists the verification ledger to PostgreSQL. It is the
// production alternative to FileStore for ledgers too large to rewrite as a
// single document on every append.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Append implements Store.
// It acquires a transaction-scoped advisory lock, reads the chain tail,
// computes the new entry hash, and inserts — all in one transaction, so a
// concurrent append can never compute previous_hash against a stale tail.
func (s *PostgresStore) Append(ctx context.Context, c Candidate) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prevSeq := 0
	prevHash := ZeroHash
	err = tx.QueryRow(ctx,
		"SELECT seq, entry_hash FROM verification_ledger ORDER BY seq DESC LIMIT 1",
	).Scan(&prevSeq, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	rec := &Record{
		SequenceNumber: prevSeq + 1,
		ItemID:         c.ItemID,
		Label:          c.Label,
		OracleScores:   c.OracleScores,
		ContentDigest:  c.ContentDigest,
		ContentPreview: truncatePreview(c.ContentPreview),
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash:   prevHash,
	}
	hash, err := HashRecord(rec)
	if err != nil {
		return nil, err
	}
	rec.EntryHash = hash

	scoresJSON, err := json.Marshal(rec.OracleScores)
	if err != nil {
		return nil, fmt.Errorf("marshal oracle scores: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO verification_ledger (seq, item_id, label, oracle_scores, content_digest, content_preview, ts, prev_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.SequenceNumber, rec.ItemID, rec.Label, scoresJSON,
		rec.ContentDigest, rec.ContentPreview, rec.Timestamp,
		rec.PreviousHash, rec.EntryHash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger record appended",
		zap.Int("sequence", rec.SequenceNumber),
		zap.String("item_id", rec.ItemID),
		zap.String("label", rec.Label),
	)
	return rec, nil
}

const selectColumns = "seq, item_id, label, oracle_scores, content_digest, content_preview, ts, prev_hash, entry_hash"

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var scoresJSON []byte
	if err := row.Scan(
		&rec.SequenceNumber, &rec.ItemID, &rec.Label, &scoresJSON,
		&rec.ContentDigest, &rec.ContentPreview, &rec.Timestamp,
		&rec.PreviousHash, &rec.EntryHash,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scoresJSON, &rec.OracleScores); err != nil {
		return nil, fmt.Errorf("unmarshal oracle scores: %w", err)
	}
	return rec, nil
}

// GetByHash implements Store.
func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM verification_ledger WHERE entry_hash = $1", hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record by hash: %w", err)
	}
	return rec, nil
}

// GetByItemID implements Store.
func (s *PostgresStore) GetByItemID(ctx context.Context, itemID string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM verification_ledger WHERE item_id = $1", itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record by item id: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+selectColumns+" FROM verification_ledger ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM verification_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger records: %w", err)
	}
	return n, nil
}

// Root implements Store.
func (s *PostgresStore) Root(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		"SELECT entry_hash FROM verification_ledger ORDER BY seq DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ZeroHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// VerifyChain implements Store. O(n) in ledger length.
func (s *PostgresStore) VerifyChain(ctx context.Context) (bool, int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return false, 0, err
	}
	ok, broken := VerifyRecords(records)
	return ok, broken, nil
}
