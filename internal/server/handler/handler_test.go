package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/veracite/veracite/internal/agreement"
	"github.com/veracite/veracite/internal/detector"
	"github.com/veracite/veracite/internal/ledger"
	"github.com/veracite/veracite/internal/server/handler"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T) (*gin.Engine, ledger.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	store, err := ledger.NewFileStore(filepath.Join(dir, "ledger.json"), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	heur := detector.NewHeuristic()
	model := detector.NewModel(filepath.Join(dir, "model.json"), zap.NewNop())
	coord := agreement.New(heur, model, store, nil, nil, agreement.Config{}, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewCheckHandler(coord, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(store, zap.NewNop()).Register(v1)
	return r, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	return w, resp
}

func TestCheck_acceptedReturnsReceipt(t *testing.T) {
	router, store := setupRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/check",
		`{"text": "Nigeria is an African country."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if resp["conclusive"] != true {
		t.Errorf("expected conclusive=true, got %v", resp["conclusive"])
	}
	if resp["result"] != "REAL" {
		t.Errorf("result: got %v, want REAL", resp["result"])
	}
	if resp["confidence"] != "HIGH" {
		t.Errorf("confidence: got %v, want HIGH", resp["confidence"])
	}

	bc, ok := resp["blockchain"].(map[string]any)
	if !ok || bc["saved"] != true {
		t.Fatalf("expected blockchain.saved=true, got %v", resp["blockchain"])
	}
	txHash, _ := bc["transaction_hash"].(string)
	if len(txHash) != 64 {
		t.Errorf("transaction_hash: got %q", txHash)
	}

	n, _ := store.Len(context.Background())
	if n != 1 {
		t.Errorf("ledger length: got %d, want 1", n)
	}
}

func TestCheck_tooShortText_400(t *testing.T) {
	router, _ := setupRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/check", `{"text": "short"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCheck_invalidBody_400(t *testing.T) {
	router, _ := setupRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/check", `{broken`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHistory_returnsRecords(t *testing.T) {
	router, _ := setupRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/check",
		`{"text": "Paris is the capital of France."}`)

	w, resp := doJSON(t, router, http.MethodGet, "/api/v1/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	records, ok := resp["records"].([]any)
	if !ok || len(records) != 1 {
		t.Errorf("expected 1 record, got %v", resp["records"])
	}
}

func TestLedgerOverview(t *testing.T) {
	router, _ := setupRouter(t)

	w, resp := doJSON(t, router, http.MethodGet, "/api/v1/ledger", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if int(resp["entries"].(float64)) != 0 {
		t.Errorf("expected empty ledger, got %v", resp["entries"])
	}
	if resp["root"] != ledger.ZeroHash {
		t.Errorf("empty ledger root: got %v, want ZeroHash", resp["root"])
	}
}

func TestLedgerVerify_valid(t *testing.T) {
	router, _ := setupRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/check",
		`{"text": "Paris is the capital of France."}`)

	w, resp := doJSON(t, router, http.MethodGet, "/api/v1/ledger/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestVerifyRecord_foundAndVerified(t *testing.T) {
	router, _ := setupRouter(t)
	_, checkResp := doJSON(t, router, http.MethodPost, "/api/v1/check",
		`{"text": "Paris is the capital of France."}`)
	bc := checkResp["blockchain"].(map[string]any)
	txHash := bc["transaction_hash"].(string)

	w, resp := doJSON(t, router, http.MethodGet, "/api/v1/verify/"+txHash, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["verified"] != true {
		t.Errorf("expected verified=true, got %v", resp["verified"])
	}
}

func TestVerifyRecord_unknownHash_404(t *testing.T) {
	router, _ := setupRouter(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/verify/"+strings.Repeat("0", 64), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStats_countsAndGrowth(t *testing.T) {
	router, _ := setupRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/check",
		`{"text": "Paris is the capital of France."}`)
	doJSON(t, router, http.MethodPost, "/api/v1/check",
		`{"text": "SHOCKING!!! UNBELIEVABLE SCANDAL EXPOSED TODAY!!!"}`)

	w, resp := doJSON(t, router, http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if int(resp["real"].(float64)) != 1 {
		t.Errorf("real count: got %v, want 1", resp["real"])
	}
	if int(resp["fake"].(float64)) != 1 {
		t.Errorf("fake count: got %v, want 1", resp["fake"])
	}
	growth, ok := resp["growth"].([]any)
	if !ok || len(growth) != 2 {
		t.Fatalf("expected 2 growth points, got %v", resp["growth"])
	}
	last := growth[1].(map[string]any)
	if int(last["total"].(float64)) != 2 {
		t.Errorf("final cumulative total: got %v, want 2", last["total"])
	}
}
