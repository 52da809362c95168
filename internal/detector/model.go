package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

const defaultLearningRate = 0.5

// Model is the adaptive statistical detector: an online binary logistic
// classifier over bag-of-words features. Its parameters are nudged by
// Correct when the coordinator resolves a disagreement, and persisted by
// Save.
//
// A Model instance is a shared mutable resource: all parameter reads and
// writes go through one mutex, so a correction in progress is never
// partially visible to a concurrent Predict.
type Model struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
	state  modelState
}

type modelState struct {
	Bias         float64            `json:"bias"`
	Weights      map[string]float64 `json:"weights"`
	LearningRate float64            `json:"learning_rate"`
	Updates      int                `json:"updates"`
}

// NewModel opens or creates a model whose parameters live at path.
// A missing file yields a fresh untrained model (predictions near 0.5);
// an unparsable file is logged and replaced by a fresh model.
func NewModel(path string, logger *zap.Logger) *Model {
	m := &Model{
		path:   path,
		logger: logger,
		state: modelState{
			Weights:      map[string]float64{},
			LearningRate: defaultLearningRate,
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m
	case err != nil:
		logger.Warn("cannot read model state, starting untrained", zap.String("path", path), zap.Error(err))
		return m
	}

	var loaded modelState
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn("model state is corrupt, starting untrained", zap.String("path", path), zap.Error(err))
		return m
	}
	if loaded.Weights == nil {
		loaded.Weights = map[string]float64{}
	}
	if loaded.LearningRate == 0 {
		loaded.LearningRate = defaultLearningRate
	}
	m.state = loaded
	logger.Info("model state loaded",
		zap.String("path", path),
		zap.Int("features", len(loaded.Weights)),
		zap.Int("updates", loaded.Updates),
	)
	return m
}

// Name implements Detector.
func (m *Model) Name() string { return "adaptive" }

// Predict implements Detector.
func (m *Model) Predict(_ context.Context, text, _ string) (*Prediction, error) {
	feats := tokenize(text)
	if len(feats) == 0 {
		return nil, fmt.Errorf("no usable tokens in input")
	}

	m.mu.Lock()
	p := m.probReal(feats)
	m.mu.Unlock()

	label := LabelFake
	confidence := 1 - p
	if p >= 0.5 {
		label = LabelReal
		confidence = p
	}

	return &Prediction{
		Label:      label,
		Confidence: round4(confidence),
		Probabilities: map[string]float64{
			"real": round4(p),
			"fake": round4(1 - p),
		},
		Method: "online logistic model",
	}, nil
}

// Correct implements Adaptive. It performs intensity gradient steps that
// move the model's output on text toward target.
func (m *Model) Correct(ctx context.Context, text string, target Label, intensity int) error {
	feats := tokenize(text)
	if len(feats) == 0 {
		return fmt.Errorf("no usable tokens in input")
	}

	y := 0.0
	if target == LabelReal {
		y = 1.0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < intensity; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		grad := y - m.probReal(feats)
		m.state.Bias += m.state.LearningRate * grad
		for tok, n := range feats {
			m.state.Weights[tok] += m.state.LearningRate * grad * n
		}
		m.state.Updates++
	}
	return nil
}

// Save implements Adaptive. The state is written to a temp file and
// renamed into place.
func (m *Model) Save() error {
	m.mu.Lock()
	data, err := json.Marshal(m.state)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal model state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write model state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close model state: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace model state: %w", err)
	}
	return nil
}

// probReal returns P(REAL) for a feature vector. Caller holds m.mu.
func (m *Model) probReal(feats map[string]float64) float64 {
	z := m.state.Bias
	for tok, n := range feats {
		z += m.state.Weights[tok] * n
	}
	return 1 / (1 + math.Exp(-z))
}

// tokenize lowercases text and splits it into word tokens, returning
// length-normalised counts so long articles do not dominate the weight
// updates of short ones.
func tokenize(text string) map[string]float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(words))
	for _, w := range words {
		counts[w]++
	}
	norm := math.Sqrt(float64(len(words)))
	for w := range counts {
		counts[w] /= norm
	}
	return counts
}
