package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/veracite/veracite/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only endpoints for the verification ledger.
type LedgerHandler struct {
	store  ledger.Store
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(store ledger.Store, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{store: store, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/history", h.History)
	rg.GET("/stats", h.Stats)
	rg.GET("/verify/:hash", h.VerifyRecord)

	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.VerifyChain)
	}
}

// Overview handles GET /ledger — chain length and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.store.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	root, err := h.store.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// History handles GET /history — the full ordered record list.
func (h *LedgerHandler) History(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}
	if records == nil {
		records = []*ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Stats handles GET /stats — REAL/FAKE counts plus cumulative growth in
// chain order, for dashboards.
func (h *LedgerHandler) Stats(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}

	type growthPoint struct {
		Block int `json:"block"`
		Total int `json:"total"`
		Real  int `json:"real"`
		Fake  int `json:"fake"`
	}

	realCount, fakeCount := 0, 0
	growth := make([]growthPoint, 0, len(records))
	for _, rec := range records {
		if rec.Label == "REAL" {
			realCount++
		} else {
			fakeCount++
		}
		growth = append(growth, growthPoint{
			Block: rec.SequenceNumber,
			Total: realCount + fakeCount,
			Real:  realCount,
			Fake:  fakeCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"real":   realCount,
		"fake":   fakeCount,
		"total":  len(records),
		"growth": growth,
	})
}

// VerifyRecord handles GET /verify/:hash — looks up one record by entry
// hash and re-derives its hash from the canonical encoding.
func (h *LedgerHandler) VerifyRecord(c *gin.Context) {
	hash := c.Param("hash")

	rec, err := h.store.GetByHash(c.Request.Context(), hash)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction hash not found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger GetByHash", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	verified := ledger.VerifyRecord(rec)
	message := "record is authentic and unmodified"
	if !verified {
		message = "record has been tampered with"
	}
	c.JSON(http.StatusOK, gin.H{
		"verified": verified,
		"record":   rec,
		"message":  message,
	})
}

// VerifyChain handles GET /ledger/verify — walks the full chain and
// reports the first broken sequence number, if any.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	ok, broken, err := h.store.VerifyChain(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger VerifyChain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}

	if !ok {
		h.logger.Warn("ledger integrity check failed", zap.Int("first_break", broken))
		c.JSON(http.StatusOK, gin.H{
			"valid":       false,
			"first_break": broken,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
