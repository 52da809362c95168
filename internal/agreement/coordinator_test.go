package agreement_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/veracite/veracite/internal/agreement"
	"github.com/veracite/veracite/internal/detector"
	"github.com/veracite/veracite/internal/ledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

const testText = "The parliament passed the budget bill on Thursday afternoon."

// ── stubs ────────────────────────────────────────────────────────────────────

type stubDetector struct {
	name string
	pred *detector.Prediction
	err  error
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Predict(context.Context, string, string) (*detector.Prediction, error) {
	if d.err != nil {
		return nil, d.err
	}
	p := *d.pred
	return &p, nil
}

// stubAdaptive flips to the corrected label after flipAfter corrections.
type stubAdaptive struct {
	initial    detector.Label
	flipAfter  int
	corrected  detector.Label
	correction int
	saves      int
	correctErr error
	delay      time.Duration
}

func (d *stubAdaptive) Name() string { return "adaptive" }

func (d *stubAdaptive) Predict(context.Context, string, string) (*detector.Prediction, error) {
	label := d.initial
	confidence := 0.6
	if d.correction >= d.flipAfter && d.corrected != "" {
		label = d.corrected
		confidence = 0.91
	}
	return &detector.Prediction{Label: label, Confidence: confidence, Method: "stub"}, nil
}

func (d *stubAdaptive) Correct(_ context.Context, _ string, target detector.Label, _ int) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.correctErr != nil {
		return d.correctErr
	}
	d.correction++
	d.corrected = target
	return nil
}

func (d *stubAdaptive) Save() error {
	d.saves++
	return nil
}

type stubFeedback struct {
	entries []string
	err     error
}

func (f *stubFeedback) Append(text string, _ detector.Label) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, text)
	return nil
}

type failingStore struct {
	ledger.Store
}

func (s *failingStore) Append(context.Context, ledger.Candidate) (*ledger.Record, error) {
	return nil, errors.New("disk full")
}

// ── helpers ──────────────────────────────────────────────────────────────────

func realPred(conf float64) *detector.Prediction {
	return &detector.Prediction{Label: detector.LabelReal, Confidence: conf, Method: "stub"}
}

func fakePred(conf float64) *detector.Prediction {
	return &detector.Prediction{Label: detector.LabelFake, Confidence: conf, Method: "stub"}
}

func newStore(t *testing.T) *ledger.FileStore {
	t.Helper()
	s, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json"), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newCoordinator(t *testing.T, heur detector.Detector, adap detector.Adaptive, store ledger.Store, fb agreement.FeedbackSink, cfg agreement.Config) *agreement.Coordinator {
	t.Helper()
	return agreement.New(heur, adap, store, fb, nil, cfg, zap.NewNop())
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestResolve_immediateAgreement(t *testing.T) {
	store := newStore(t)
	heur := &stubDetector{name: "heuristic", pred: realPred(0.74)}
	adap := &stubAdaptive{initial: detector.LabelReal, flipAfter: 99}

	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != agreement.OutcomeAccepted {
		t.Fatalf("outcome: got %s, want ACCEPTED", res.Outcome)
	}
	if res.Corrections != 0 {
		t.Errorf("corrections: got %d, want 0", res.Corrections)
	}
	if res.ConfidenceTier != "HIGH" {
		t.Errorf("confidence tier: got %q, want HIGH", res.ConfidenceTier)
	}
	if res.Record == nil || res.Record.SequenceNumber != 1 {
		t.Fatal("expected exactly one appended record with sequence 1")
	}
	if adap.saves != 0 {
		t.Errorf("model must not be saved when no correction occurred, saves=%d", adap.saves)
	}

	n, _ := store.Len(ctx)
	if n != 1 {
		t.Errorf("ledger length: got %d, want 1", n)
	}
}

func TestResolve_convergesAfterCorrections(t *testing.T) {
	store := newStore(t)
	heur := &stubDetector{name: "heuristic", pred: fakePred(0.8)}
	adap := &stubAdaptive{initial: detector.LabelReal, flipAfter: 2}

	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{MaxRetries: 5})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != agreement.OutcomeAccepted {
		t.Fatalf("outcome: got %s (%s), want ACCEPTED", res.Outcome, res.Reason)
	}
	if res.Label != detector.LabelFake {
		t.Errorf("label: got %s, want FAKE", res.Label)
	}
	if res.Corrections != 2 {
		t.Errorf("corrections: got %d, want 2", res.Corrections)
	}

	// Oracle scores in the record reflect the post-correction outputs.
	if got := res.Record.OracleScores["adaptive"]; got != 0.91 {
		t.Errorf("adaptive score in record: got %v, want post-correction 0.91", got)
	}
	if got := res.Record.OracleScores["heuristic"]; got != 0.8 {
		t.Errorf("heuristic score in record: got %v, want 0.8", got)
	}

	if adap.saves != 1 {
		t.Errorf("corrected model should be saved once, saves=%d", adap.saves)
	}

	n, _ := store.Len(ctx)
	if n != 1 {
		t.Errorf("ledger length: got %d, want 1", n)
	}
}

func TestResolve_retriesExhausted(t *testing.T) {
	store := newStore(t)
	fb := &stubFeedback{}
	heur := &stubDetector{name: "heuristic", pred: fakePred(0.8)}
	adap := &stubAdaptive{initial: detector.LabelReal, flipAfter: 99}

	c := newCoordinator(t, heur, adap, store, fb, agreement.Config{MaxRetries: 3})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != agreement.OutcomeRejected {
		t.Fatalf("outcome: got %s, want REJECTED", res.Outcome)
	}
	if res.Reason != agreement.ReasonRetriesExhausted {
		t.Errorf("reason: got %s, want retries_exhausted", res.Reason)
	}
	if res.Corrections != 3 {
		t.Errorf("corrections: got %d, want 3", res.Corrections)
	}
	if res.Label != "" {
		t.Errorf("rejected item must carry no label, got %q", res.Label)
	}

	n, _ := store.Len(ctx)
	if n != 0 {
		t.Errorf("rejected item must not reach the ledger, length=%d", n)
	}
	if len(fb.entries) != 1 {
		t.Errorf("expected exactly one feedback entry, got %d", len(fb.entries))
	}
	if adap.saves != 0 {
		t.Errorf("rejected resolution must not save the model, saves=%d", adap.saves)
	}
}

func TestResolve_feedbackFailureIsSwallowed(t *testing.T) {
	store := newStore(t)
	fb := &stubFeedback{err: errors.New("feedback disk gone")}
	heur := &stubDetector{name: "heuristic", pred: fakePred(0.8)}
	adap := &stubAdaptive{initial: detector.LabelReal, flipAfter: 99}

	c := newCoordinator(t, heur, adap, store, fb, agreement.Config{MaxRetries: 2})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatalf("feedback failure must not fail the request: %v", err)
	}
	if res.Outcome != agreement.OutcomeRejected {
		t.Errorf("outcome: got %s, want REJECTED", res.Outcome)
	}
}

func TestResolve_heuristicErrorShortCircuits(t *testing.T) {
	store := newStore(t)
	heur := &stubDetector{name: "heuristic", err: errors.New("rule engine broken")}
	adap := &stubAdaptive{initial: detector.LabelReal}

	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != agreement.OutcomeRejected || res.Reason != agreement.ReasonOracleFailure {
		t.Errorf("got %s/%s, want REJECTED/oracle_failure", res.Outcome, res.Reason)
	}
	if adap.correction != 0 {
		t.Error("a broken oracle must never trigger correction")
	}
	n, _ := store.Len(ctx)
	if n != 0 {
		t.Errorf("ledger must stay empty, length=%d", n)
	}
}

func TestResolve_adaptiveCorrectErrorShortCircuits(t *testing.T) {
	store := newStore(t)
	heur := &stubDetector{name: "heuristic", pred: fakePred(0.8)}
	adap := &stubAdaptive{initial: detector.LabelReal, correctErr: errors.New("weights unavailable")}

	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != agreement.OutcomeRejected || res.Reason != agreement.ReasonOracleFailure {
		t.Errorf("got %s/%s, want REJECTED/oracle_failure", res.Outcome, res.Reason)
	}
}

func TestResolve_validation(t *testing.T) {
	store := newStore(t)
	heur := &stubDetector{name: "heuristic", pred: realPred(0.7)}
	adap := &stubAdaptive{initial: detector.LabelReal}
	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{})

	for _, text := range []string{"", "short", "   padded  "} {
		if _, err := c.Resolve(ctx, text, ""); !errors.Is(err, agreement.ErrInvalidInput) {
			t.Errorf("Resolve(%q): got %v, want ErrInvalidInput", text, err)
		}
	}
}

func TestResolve_persistenceFailurePropagates(t *testing.T) {
	store := &failingStore{Store: newStore(t)}
	heur := &stubDetector{name: "heuristic", pred: realPred(0.7)}
	adap := &stubAdaptive{initial: detector.LabelReal, flipAfter: 99}

	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{})
	res, err := c.Resolve(ctx, testText, "")
	if err == nil {
		t.Fatal("persistence failure must surface as an error, not a resolution")
	}
	if res != nil {
		t.Error("no resolution should be returned on persistence failure")
	}
}

func TestResolve_timeoutReason(t *testing.T) {
	store := newStore(t)
	heur := &stubDetector{name: "heuristic", pred: fakePred(0.8)}
	adap := &stubAdaptive{initial: detector.LabelReal, flipAfter: 99, delay: 30 * time.Millisecond}

	c := newCoordinator(t, heur, adap, store, nil, agreement.Config{
		MaxRetries:     5,
		ResolveTimeout: 10 * time.Millisecond,
	})
	res, err := c.Resolve(ctx, testText, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != agreement.OutcomeRejected {
		t.Fatalf("outcome: got %s, want REJECTED", res.Outcome)
	}
	if res.Reason != agreement.ReasonTimeout {
		t.Errorf("reason: got %s, want timeout (distinct from retries_exhausted)", res.Reason)
	}
}

// End-to-end with the real detectors and file store: the worked examples.
func TestResolve_realDetectors(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.NewFileStore(filepath.Join(dir, "ledger.json"), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	heur := detector.NewHeuristic()
	model := detector.NewModel(filepath.Join(dir, "model.json"), zap.NewNop())

	c := agreement.New(heur, model, store, nil, nil, agreement.Config{}, zap.NewNop())

	// Factual statement: both lean REAL on first query.
	res, err := c.Resolve(ctx, "Nigeria is an African country.", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != agreement.OutcomeAccepted {
		t.Fatalf("factual statement: got %s (%s), want ACCEPTED", res.Outcome, res.Reason)
	}
	if res.Label != detector.LabelReal {
		t.Errorf("label: got %s, want REAL", res.Label)
	}
	if res.Corrections != 0 {
		t.Errorf("corrections: got %d, want 0", res.Corrections)
	}

	// Sensational all-caps item: heuristic says FAKE, the untrained model
	// starts at REAL and must be corrected into agreement.
	res, err = c.Resolve(ctx, "SHOCKING!!! UNBELIEVABLE SCANDAL EXPOSED TODAY!!!", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != agreement.OutcomeAccepted {
		t.Fatalf("sensational item: got %s (%s), want ACCEPTED", res.Outcome, res.Reason)
	}
	if res.Label != detector.LabelFake {
		t.Errorf("label: got %s, want FAKE", res.Label)
	}
	if res.Corrections == 0 {
		t.Error("expected at least one correction before convergence")
	}
	if got := res.Record.OracleScores["adaptive"]; got != res.Adaptive.Confidence {
		t.Errorf("record must carry the post-correction adaptive confidence: %v vs %v", got, res.Adaptive.Confidence)
	}

	n, _ := store.Len(ctx)
	if n != 2 {
		t.Errorf("ledger length: got %d, want 2", n)
	}
	if ok, broken, _ := store.VerifyChain(ctx); !ok {
		t.Errorf("chain broken at %d", broken)
	}
}

func TestReceiptSigner_roundTrip(t *testing.T) {
	signer := agreement.NewReceiptSigner([]byte("test-secret"), "veracite-test")
	rec := &ledger.Record{
		SequenceNumber: 7,
		ItemID:         "item-7",
		Label:          "REAL",
		EntryHash:      "abc123",
	}

	receipt, err := signer.Sign(rec)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := signer.Verify(receipt)
	if err != nil {
		t.Fatal(err)
	}
	if claims["entry_hash"] != "abc123" {
		t.Errorf("entry_hash claim: got %v", claims["entry_hash"])
	}
	if claims["label"] != "REAL" {
		t.Errorf("label claim: got %v", claims["label"])
	}
	if int(claims["seq"].(float64)) != 7 {
		t.Errorf("seq claim: got %v", claims["seq"])
	}

	if _, err := agreement.NewReceiptSigner([]byte("other-secret"), "x").Verify(receipt); err == nil {
		t.Error("receipt must not verify under a different secret")
	}
}
