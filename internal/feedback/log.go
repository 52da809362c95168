// Package feedback records unresolved detector disagreements as an
// append-only JSONL file, one entry per line. The file is written by the
// agreement coordinator and read only by offline retraining tooling.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/veracite/veracite/internal/detector"
	"go.uber.org/zap"
)

// textLimit bounds the stored text so one pathological submission cannot
// bloat the log.
const textLimit = 2000

// Entry is one recorded disagreement. Binary is 1 for REAL and 0 for
// FAKE — the numeric target label consumed by the retraining pipeline.
type Entry struct {
	Text   string `json:"text"`
	Label  string `json:"label"`
	Binary int    `json:"binary"`
}

// Log appends disagreement entries to a JSONL file. Writes are serialised;
// callers treat Append as best-effort.
type Log struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// New creates a feedback log at path. The file is created on first append.
func New(path string, logger *zap.Logger) *Log {
	return &Log{path: path, logger: logger}
}

// Append writes one entry. The entry's text is truncated to 2000 bytes.
func (l *Log) Append(text string, label detector.Label) error {
	if len(text) > textLimit {
		text = text[:textLimit]
	}
	binary := 0
	if label == detector.LabelReal {
		binary = 1
	}

	line, err := json.Marshal(Entry{Text: text, Label: string(label), Binary: binary})
	if err != nil {
		return fmt.Errorf("marshal feedback entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write feedback entry: %w", err)
	}

	l.logger.Debug("feedback entry recorded", zap.String("label", string(label)))
	return nil
}
