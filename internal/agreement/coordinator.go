// Package agreement implements the protocol that reconciles the two
// detectors before a classification may be committed to the ledger.
//
// Both detectors are queried once; on disagreement the adaptive model is
// nudged toward the heuristic's label (the heuristic is treated as ground
// truth) and re-queried, up to a bounded number of corrections. Agreement
// commits exactly one ledger record; exhaustion rejects the item and
// records the disagreement in the feedback log for offline retraining.
package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/veracite/veracite/internal/detector"
	"github.com/veracite/veracite/internal/ledger"
	"go.uber.org/zap"
)

// MinTextLength is the validation floor: shorter submissions are rejected
// before any oracle is consulted.
const MinTextLength = 10

// ErrInvalidInput is returned by Resolve when the submitted text fails
// validation. It is a precondition failure, not a protocol rejection.
var ErrInvalidInput = errors.New("text too short: minimum 10 characters")

// Outcome is the terminal state of a resolution.
type Outcome string

const (
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeRejected Outcome = "REJECTED"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonOracleFailure    Reason = "oracle_failure"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonTimeout          Reason = "timeout"
)

// Resolution is the result of running one item through the protocol.
type Resolution struct {
	Outcome Outcome
	Reason  Reason

	// Label and ConfidenceTier are set only on acceptance. The tier is a
	// fixed "HIGH" because agreement, not confidence magnitude, is the
	// acceptance signal.
	Label          detector.Label
	ConfidenceTier string

	Corrections int
	Heuristic   *detector.Prediction
	Adaptive    *detector.Prediction

	// Record is the appended ledger record; its EntryHash is the caller's
	// verifiable receipt. Set only on acceptance.
	Record *ledger.Record

	// Receipt is a signed token binding the record's identity, when a
	// receipt signer is configured.
	Receipt string
}

// Config tunes the protocol bounds.
type Config struct {
	// MaxRetries caps the number of corrective rounds per item.
	MaxRetries int
	// CorrectionSteps is the intensity passed to each Correct call.
	CorrectionSteps int
	// ResolveTimeout caps the wall-clock budget of one resolution,
	// independent of MaxRetries. Zero disables the deadline.
	ResolveTimeout time.Duration
}

// FeedbackSink records unresolved disagreements for offline retraining.
// *feedback.Log satisfies this interface.
type FeedbackSink interface {
	Append(text string, label detector.Label) error
}

// ReceiptIssuer signs acceptance receipts. *ReceiptSigner satisfies this.
type ReceiptIssuer interface {
	Sign(rec *ledger.Record) (string, error)
}

// Coordinator runs the agreement protocol. It holds no per-item state
// between calls; concurrent Resolve calls are independent except for the
// ledger append and the adaptive model's internally-serialised parameters.
type Coordinator struct {
	heuristic detector.Detector
	adaptive  detector.Adaptive
	store     ledger.Store
	feedback  FeedbackSink  // nil = disagreements are not recorded
	receipts  ReceiptIssuer // nil = no signed receipts
	cfg       Config
	logger    *zap.Logger
}

// New creates a Coordinator. feedback and receipts may be nil to disable
// those features.
func New(heuristic detector.Detector, adaptive detector.Adaptive, store ledger.Store, feedback FeedbackSink, receipts ReceiptIssuer, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.CorrectionSteps <= 0 {
		cfg.CorrectionSteps = 5
	}
	return &Coordinator{
		heuristic: heuristic,
		adaptive:  adaptive,
		store:     store,
		feedback:  feedback,
		receipts:  receipts,
		cfg:       cfg,
		logger:    logger,
	}
}

// Resolve runs one item through the protocol.
//
// It returns ErrInvalidInput for too-short text, a REJECTED resolution
// for oracle failures, exhausted retries, or timeouts, and an error for
// persistence failures — the classification may have succeeded, but the
// item was not durably committed and must not be treated as accepted.
func (c *Coordinator) Resolve(ctx context.Context, text, sourceURL string) (*Resolution, error) {
	text = strings.TrimSpace(text)
	if len(text) < MinTextLength {
		return nil, ErrInvalidInput
	}

	if c.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ResolveTimeout)
		defer cancel()
	}

	// Query both oracles once. There is no ordering dependency between
	// the two calls.
	heurPred, err := c.heuristic.Predict(ctx, text, sourceURL)
	if err != nil {
		return c.rejectOracle(c.heuristic.Name(), err, nil, nil), nil
	}
	adapPred, err := c.adaptive.Predict(ctx, text, sourceURL)
	if err != nil {
		return c.rejectOracle(c.adaptive.Name(), err, heurPred, nil), nil
	}

	// Corrective loop: nudge the adaptive model toward the heuristic's
	// label and re-query it. The heuristic is stateless and would return
	// an identical answer, so it is not re-queried.
	corrections := 0
	for adapPred.Label != heurPred.Label && corrections < c.cfg.MaxRetries {
		if ctx.Err() != nil {
			return c.rejectTimeout(corrections, heurPred, adapPred), nil
		}
		if err := c.adaptive.Correct(ctx, text, heurPred.Label, c.cfg.CorrectionSteps); err != nil {
			if ctx.Err() != nil {
				return c.rejectTimeout(corrections, heurPred, adapPred), nil
			}
			return c.rejectOracle(c.adaptive.Name(), err, heurPred, adapPred), nil
		}
		adapPred, err = c.adaptive.Predict(ctx, text, sourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return c.rejectTimeout(corrections, heurPred, adapPred), nil
			}
			return c.rejectOracle(c.adaptive.Name(), err, heurPred, nil), nil
		}
		corrections++
	}

	if adapPred.Label != heurPred.Label {
		c.recordFeedback(text, heurPred.Label)
		c.logger.Info("item rejected: detectors did not converge",
			zap.String("heuristic_label", string(heurPred.Label)),
			zap.String("adaptive_label", string(adapPred.Label)),
			zap.Int("corrections", corrections),
		)
		return &Resolution{
			Outcome:     OutcomeRejected,
			Reason:      ReasonRetriesExhausted,
			Corrections: corrections,
			Heuristic:   heurPred,
			Adaptive:    adapPred,
		}, nil
	}

	// Agreement reached: commit exactly one ledger record.
	rec, err := c.store.Append(ctx, ledger.Candidate{
		ItemID: uuid.NewString(),
		Label:  string(heurPred.Label),
		OracleScores: map[string]float64{
			c.heuristic.Name(): heurPred.Confidence,
			c.adaptive.Name():  adapPred.Confidence,
		},
		ContentDigest:  ledger.Digest([]byte(text)),
		ContentPreview: text,
	})
	if err != nil {
		return nil, fmt.Errorf("append verification record: %w", err)
	}

	// Corrections changed the adaptive model's parameters; persist them.
	// Best-effort: a failed save costs retraining progress, not the result.
	if corrections > 0 {
		if err := c.adaptive.Save(); err != nil {
			c.logger.Warn("persist adaptive model state", zap.Error(err))
		}
	}

	res := &Resolution{
		Outcome:        OutcomeAccepted,
		Label:          heurPred.Label,
		ConfidenceTier: "HIGH",
		Corrections:    corrections,
		Heuristic:      heurPred,
		Adaptive:       adapPred,
		Record:         rec,
	}

	if c.receipts != nil {
		receipt, err := c.receipts.Sign(rec)
		if err != nil {
			c.logger.Warn("sign receipt", zap.Error(err))
		} else {
			res.Receipt = receipt
		}
	}

	c.logger.Info("item accepted",
		zap.String("label", string(res.Label)),
		zap.Int("corrections", corrections),
		zap.Int("sequence", rec.SequenceNumber),
		zap.String("entry_hash", rec.EntryHash),
	)
	return res, nil
}

func (c *Coordinator) rejectOracle(name string, err error, heur, adap *detector.Prediction) *Resolution {
	// A broken oracle is never corrected into fabricating an answer.
	c.logger.Warn("oracle failed, rejecting item",
		zap.String("oracle", name),
		zap.Error(err),
	)
	return &Resolution{
		Outcome:   OutcomeRejected,
		Reason:    ReasonOracleFailure,
		Heuristic: heur,
		Adaptive:  adap,
	}
}

func (c *Coordinator) rejectTimeout(corrections int, heur, adap *detector.Prediction) *Resolution {
	c.logger.Warn("resolution deadline exceeded", zap.Int("corrections", corrections))
	return &Resolution{
		Outcome:     OutcomeRejected,
		Reason:      ReasonTimeout,
		Corrections: corrections,
		Heuristic:   heur,
		Adaptive:    adap,
	}
}

func (c *Coordinator) recordFeedback(text string, label detector.Label) {
	if c.feedback == nil {
		return
	}
	if err := c.feedback.Append(text, label); err != nil {
		// Feedback is best-effort and must never fail the request.
		c.logger.Warn("append feedback entry", zap.Error(err))
	}
}
