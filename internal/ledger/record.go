package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ZeroHash is the sentinel previous-hash of the first record in a chain:
// 64 hex zeros. It is the only previous_hash value that does not refer to
// an earlier record.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// PreviewLimit bounds content_preview length. The preview is for human
// display; the full text is represented by content_digest.
const PreviewLimit = 200

// Record is a single verification entry in the ledger. Records are
// immutable once appended; EntryHash binds all other fields together and
// PreviousHash links each record to its predecessor.
type Record struct {
	SequenceNumber int                `json:"sequence_number"`
	ItemID         string             `json:"item_id"`
	Label          string             `json:"label"`
	OracleScores   map[string]float64 `json:"oracle_scores"`
	ContentDigest  string             `json:"content_digest"`
	ContentPreview string             `json:"content_preview"`
	Timestamp      string             `json:"timestamp"` // RFC3339Nano, UTC
	EntryHash      string             `json:"entry_hash"`
	PreviousHash   string             `json:"previous_hash"`
}

// Candidate carries the caller-supplied fields of a record about to be
// appended. SequenceNumber, Timestamp, PreviousHash and EntryHash are
// assigned by the store at append time.
type Candidate struct {
	ItemID         string
	Label          string
	OracleScores   map[string]float64
	ContentDigest  string
	ContentPreview string
}

// Digest returns the hex-encoded SHA-256 digest of data.
func Digest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// canonicalEncode serialises a record's hashed fields (everything except
// entry_hash and previous_hash) with a stable key order, so that two
// semantically identical records always encode to identical bytes.
// encoding/json sorts map keys, which gives the stable ordering an
// independent verifier can reproduce in any language.
func canonicalEncode(r *Record) ([]byte, error) {
	payload := map[string]any{
		"sequence_number": r.SequenceNumber,
		"item_id":         r.ItemID,
		"label":           r.Label,
		"oracle_scores":   r.OracleScores,
		"content_digest":  r.ContentDigest,
		"content_preview": r.ContentPreview,
		"timestamp":       r.Timestamp,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return b, nil
}

// HashRecord computes a record's entry hash from its canonical encoding.
// The EntryHash and PreviousHash fields of r are not part of the input.
func HashRecord(r *Record) (string, error) {
	b, err := canonicalEncode(r)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// VerifyRecord recomputes a record's entry hash and compares it to the
// stored one. It is a pure check; chain linkage is validated separately
// by Store.VerifyChain.
func VerifyRecord(r *Record) bool {
	h, err := HashRecord(r)
	if err != nil {
		return false
	}
	return h == r.EntryHash
}

// VerifyRecords walks a record sequence in order and checks, for each
// record, the gap-free 1-based sequence numbering, the recomputed entry
// hash, and the previous-hash link to its predecessor (ZeroHash for the
// first record). It returns (true, 0) for an intact chain, or (false, n)
// where n is the 1-based position of the first violated record.
func VerifyRecords(records []*Record) (bool, int) {
	for i, rec := range records {
		pos := i + 1
		if rec.SequenceNumber != pos {
			return false, pos
		}
		if !VerifyRecord(rec) {
			return false, pos
		}
		if i == 0 {
			if rec.PreviousHash != ZeroHash {
				return false, pos
			}
			continue
		}
		if rec.PreviousHash != records[i-1].EntryHash {
			return false, pos
		}
	}
	return true, 0
}

// truncatePreview clamps a preview to PreviewLimit without splitting a
// multi-byte rune.
func truncatePreview(s string) string {
	if len(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	out := ""
	for _, r := range runes {
		if len(out)+len(string(r)) > PreviewLimit {
			break
		}
		out += string(r)
	}
	return out
}
