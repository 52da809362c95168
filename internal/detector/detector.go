// Package detector provides the two classification oracles consumed by the
// agreement coordinator: a fast rule-based heuristic and a slower adaptive
// statistical model that can be nudged by corrective feedback.
package detector

import "context"

// Label is the binary classification outcome.
type Label string

const (
	LabelReal Label = "REAL"
	LabelFake Label = "FAKE"
)

// Prediction is the output of a single detector run.
type Prediction struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`

	// Score is the heuristic's raw additive score. Zero for detectors
	// that do not score additively.
	Score int `json:"score,omitempty"`

	// Details maps criterion names to the points they contributed.
	// Populated by the heuristic only.
	Details map[string]int `json:"details,omitempty"`

	// Probabilities maps class names to probabilities. Populated by the
	// adaptive model only.
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	Method string `json:"method"`
}

// Detector classifies a text item. Implementations must be safe for
// concurrent use.
type Detector interface {
	// Name identifies the detector in oracle score maps and logs.
	Name() string

	// Predict classifies text. sourceURL is optional context (the URL the
	// item was found at) and may be empty.
	Predict(ctx context.Context, text, sourceURL string) (*Prediction, error)
}

// Adaptive is a stateful detector whose internal parameters can be nudged
// toward a target label. Correct and Predict calls against the same
// instance are serialised internally; partial corrections are never
// visible to concurrent callers.
type Adaptive interface {
	Detector

	// Correct applies intensity corrective update steps toward target.
	// It mutates internal state only; Save persists it.
	Correct(ctx context.Context, text string, target Label, intensity int) error

	// Save durably persists the detector's internal state.
	Save() error
}
