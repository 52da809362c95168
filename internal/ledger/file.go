package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore persists the ledger as a single JSON array rewritten in full on
// every append. This is acceptable at the expected scale of thousands of
// records; larger deployments should use PostgresStore.
//
// Append is serialised by an exclusive lock: reading the chain tail,
// computing the new record, and writing the extended sequence form one
// critical section. Readers never observe a partially appended record
// because the in-memory slice is only replaced after the durable write
// succeeds.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	records []*Record
	logger  *zap.Logger
}

// NewFileStore opens or creates a file-backed ledger at path.
//
// A missing file yields an empty ledger. An unparsable file also yields an
// empty ledger unless strict is set: the damaged file is renamed aside and
// the failure is logged loudly, trading durability for availability. With
// strict set, a corrupt file is a startup error instead.
func NewFileStore(path string, strict bool, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		if strict {
			return nil, fmt.Errorf("parse ledger file %s: %w", path, err)
		}
		// Degrade to an empty ledger rather than refusing to start. The
		// damaged file is kept aside so operators can attempt recovery.
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		renameErr := os.Rename(path, aside)
		logger.Error("ledger file is corrupt — starting with an EMPTY ledger; prior records are not being served",
			zap.String("path", path),
			zap.String("moved_to", aside),
			zap.Error(err),
			zap.NamedError("rename_error", renameErr),
		)
		s.records = nil
	}
	return s, nil
}

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, c Candidate) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash := ZeroHash
	if n := len(s.records); n > 0 {
		prevHash = s.records[n-1].EntryHash
	}

	rec := &Record{
		SequenceNumber: len(s.records) + 1,
		ItemID:         c.ItemID,
		Label:          c.Label,
		OracleScores:   c.OracleScores,
		ContentDigest:  c.ContentDigest,
		ContentPreview: truncatePreview(c.ContentPreview),
		Timestamp:      s.nextTimestamp(),
		PreviousHash:   prevHash,
	}

	hash, err := HashRecord(rec)
	if err != nil {
		return nil, err
	}
	rec.EntryHash = hash

	next := make([]*Record, len(s.records), len(s.records)+1)
	copy(next, s.records)
	next = append(next, rec)

	if err := s.persist(next); err != nil {
		// In-memory state is untouched: the failed append is invisible.
		return nil, fmt.Errorf("persist ledger: %w", err)
	}
	s.records = next

	s.logger.Debug("ledger record appended",
		zap.Int("sequence", rec.SequenceNumber),
		zap.String("item_id", rec.ItemID),
		zap.String("label", rec.Label),
	)
	return rec, nil
}

// nextTimestamp returns the current UTC instant, clamped so timestamps are
// monotonically non-decreasing across the ledger even if the wall clock
// steps backwards. Caller holds the write lock.
func (s *FileStore) nextTimestamp() string {
	now := time.Now().UTC()
	if n := len(s.records); n > 0 {
		if tail, err := time.Parse(time.RFC3339Nano, s.records[n-1].Timestamp); err == nil && now.Before(tail) {
			now = tail
		}
	}
	return now.Format(time.RFC3339Nano)
}

// persist writes records to a temp file in the same directory and renames
// it into place, so a crash mid-write cannot leave a truncated ledger.
func (s *FileStore) persist(records []*Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

// GetByHash implements Store.
func (s *FileStore) GetByHash(_ context.Context, hash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.EntryHash == hash {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// GetByItemID implements Store.
func (s *FileStore) GetByItemID(_ context.Context, itemID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ItemID == itemID {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Len implements Store.
func (s *FileStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Root implements Store.
func (s *FileStore) Root(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return ZeroHash, nil
	}
	return s.records[len(s.records)-1].EntryHash, nil
}

// VerifyChain implements Store.
func (s *FileStore) VerifyChain(_ context.Context) (bool, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, broken := VerifyRecords(s.records)
	return ok, broken, nil
}
