package detector_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/veracite/veracite/internal/detector"
	"go.uber.org/zap"
)

func newModel(t *testing.T) (*detector.Model, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	return detector.NewModel(path, zap.NewNop()), path
}

func TestModel_untrainedPredictsNearHalf(t *testing.T) {
	m, _ := newModel(t)

	pred, err := m.Predict(ctx, "Nigeria is an African country.", "")
	if err != nil {
		t.Fatal(err)
	}
	if pred.Probabilities["real"] != 0.5 {
		t.Errorf("untrained P(real): got %v, want 0.5", pred.Probabilities["real"])
	}
	if pred.Label != detector.LabelReal {
		t.Errorf("untrained model at exactly 0.5 should lean REAL, got %s", pred.Label)
	}
}

func TestModel_correctionMovesTowardTarget(t *testing.T) {
	m, _ := newModel(t)
	text := "SHOCKING bombshell report EXPOSED today"

	if err := m.Correct(ctx, text, detector.LabelFake, 5); err != nil {
		t.Fatal(err)
	}

	pred, err := m.Predict(ctx, text, "")
	if err != nil {
		t.Fatal(err)
	}
	if pred.Label != detector.LabelFake {
		t.Errorf("after correction toward FAKE: got %s", pred.Label)
	}
	if pred.Probabilities["fake"] <= 0.5 {
		t.Errorf("P(fake) should exceed 0.5 after correction, got %v", pred.Probabilities["fake"])
	}
}

func TestModel_correctionIsReversible(t *testing.T) {
	m, _ := newModel(t)
	text := "Paris is the capital of France."

	if err := m.Correct(ctx, text, detector.LabelFake, 5); err != nil {
		t.Fatal(err)
	}
	// Stronger pull back toward REAL must win out.
	if err := m.Correct(ctx, text, detector.LabelReal, 15); err != nil {
		t.Fatal(err)
	}

	pred, _ := m.Predict(ctx, text, "")
	if pred.Label != detector.LabelReal {
		t.Errorf("after stronger REAL correction: got %s", pred.Label)
	}
}

func TestModel_saveLoadRoundTrip(t *testing.T) {
	m, path := newModel(t)
	text := "unbelievable scandal rocks the city"

	if err := m.Correct(ctx, text, detector.LabelFake, 5); err != nil {
		t.Fatal(err)
	}
	before, _ := m.Predict(ctx, text, "")

	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded := detector.NewModel(path, zap.NewNop())
	after, err := reloaded.Predict(ctx, text, "")
	if err != nil {
		t.Fatal(err)
	}
	if after.Label != before.Label {
		t.Errorf("label changed across reload: %s vs %s", after.Label, before.Label)
	}
	if after.Probabilities["fake"] != before.Probabilities["fake"] {
		t.Errorf("P(fake) changed across reload: %v vs %v",
			after.Probabilities["fake"], before.Probabilities["fake"])
	}
}

func TestModel_corruptStateStartsUntrained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := detector.NewModel(path, zap.NewNop())
	pred, err := m.Predict(ctx, "Nigeria is an African country.", "")
	if err != nil {
		t.Fatal(err)
	}
	if pred.Probabilities["real"] != 0.5 {
		t.Errorf("corrupt state should yield a fresh model, P(real)=%v", pred.Probabilities["real"])
	}
}

func TestModel_emptyInputErrors(t *testing.T) {
	m, _ := newModel(t)
	if _, err := m.Predict(ctx, "!!! ???", ""); err == nil {
		t.Error("input with no word tokens should error")
	}
}
