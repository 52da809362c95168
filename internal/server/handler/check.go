package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/veracite/veracite/internal/agreement"
	"go.uber.org/zap"
)

// CheckHandler exposes the classification submission endpoint.
type CheckHandler struct {
	coord  *agreement.Coordinator
	logger *zap.Logger
}

// NewCheckHandler creates a new CheckHandler.
func NewCheckHandler(coord *agreement.Coordinator, logger *zap.Logger) *CheckHandler {
	return &CheckHandler{coord: coord, logger: logger}
}

// Register mounts the check route on the given router group.
func (h *CheckHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/check", h.Check)
}

type checkRequest struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
}

// Check handles POST /check — runs one item through the agreement
// protocol. Accepted items return the committed ledger entry's hash as a
// verifiable receipt; rejected items return an explicit inconclusive
// marker with a reason code.
func (h *CheckHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.coord.Resolve(c.Request.Context(), req.Text, req.SourceURL)
	if errors.Is(err, agreement.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		// The classification may have succeeded, but the record was not
		// durably committed: a distinct server-side failure, not a reject.
		h.logger.Error("resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist verification record"})
		return
	}

	RecordResolution(string(res.Outcome), string(res.Reason), res.Corrections)

	if res.Outcome != agreement.OutcomeAccepted {
		c.JSON(http.StatusOK, gin.H{
			"result":      nil,
			"conclusive":  false,
			"agreement":   false,
			"reason":      res.Reason,
			"corrections": res.Corrections,
			"heuristic":   res.Heuristic,
			"adaptive":    res.Adaptive,
			"blockchain":  gin.H{"saved": false},
			"message":     "detectors could not reach agreement; feedback recorded for future training",
		})
		return
	}

	RecordLedgerAppend()

	resp := gin.H{
		"result":      res.Label,
		"confidence":  res.ConfidenceTier,
		"conclusive":  true,
		"agreement":   true,
		"corrections": res.Corrections,
		"heuristic":   res.Heuristic,
		"adaptive":    res.Adaptive,
		"blockchain": gin.H{
			"saved":            true,
			"transaction_hash": res.Record.EntryHash,
			"item_id":          res.Record.ItemID,
			"sequence_number":  res.Record.SequenceNumber,
			"content_digest":   res.Record.ContentDigest,
			"verify_url":       "/api/v1/verify/" + res.Record.EntryHash,
		},
	}
	if res.Receipt != "" {
		resp["receipt"] = res.Receipt
	}
	c.JSON(http.StatusOK, resp)
}
