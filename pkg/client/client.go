// Package client is the Go client for the veracite verification API.
//
// It covers the full query surface: submitting items for classification,
// listing the ledger, verifying single records, and verifying the whole
// chain's integrity.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the server reports a missing record.
var ErrNotFound = errors.New("record not found")

// Record mirrors a ledger record as returned by the API.
type Record struct {
	SequenceNumber int                `json:"sequence_number"`
	ItemID         string             `json:"item_id"`
	Label          string             `json:"label"`
	OracleScores   map[string]float64 `json:"oracle_scores"`
	ContentDigest  string             `json:"content_digest"`
	ContentPreview string             `json:"content_preview"`
	Timestamp      string             `json:"timestamp"`
	EntryHash      string             `json:"entry_hash"`
	PreviousHash   string             `json:"previous_hash"`
}

// Prediction mirrors a detector's output.
type Prediction struct {
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Score         int                `json:"score,omitempty"`
	Details       map[string]int     `json:"details,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Method        string             `json:"method"`
}

// BlockchainInfo is the commit block of a check response.
type BlockchainInfo struct {
	Saved           bool   `json:"saved"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	ItemID          string `json:"item_id,omitempty"`
	SequenceNumber  int    `json:"sequence_number,omitempty"`
	ContentDigest   string `json:"content_digest,omitempty"`
	VerifyURL       string `json:"verify_url,omitempty"`
}

// CheckResult is the outcome of submitting an item.
type CheckResult struct {
	Result      string         `json:"result"`
	Confidence  string         `json:"confidence"`
	Conclusive  bool           `json:"conclusive"`
	Agreement   bool           `json:"agreement"`
	Reason      string         `json:"reason,omitempty"`
	Corrections int            `json:"corrections"`
	Heuristic   *Prediction    `json:"heuristic"`
	Adaptive    *Prediction    `json:"adaptive"`
	Blockchain  BlockchainInfo `json:"blockchain"`
	Receipt     string         `json:"receipt,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// VerifyResult is the outcome of a single-record verification.
type VerifyResult struct {
	Verified bool    `json:"verified"`
	Record   *Record `json:"record"`
	Message  string  `json:"message"`
}

// ChainResult is the outcome of a full-chain verification.
type ChainResult struct {
	Valid      bool `json:"valid"`
	FirstBreak int  `json:"first_break,omitempty"`
}

// Overview is the ledger summary.
type Overview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Stats is the aggregated classification breakdown.
type Stats struct {
	Real   int `json:"real"`
	Fake   int `json:"fake"`
	Total  int `json:"total"`
	Growth []struct {
		Block int `json:"block"`
		Total int `json:"total"`
		Real  int `json:"real"`
		Fake  int `json:"fake"`
	} `json:"growth"`
}

// Client talks to a veracite server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the given base URL, e.g. "http://localhost:8084".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient overrides the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Check submits text (with optional source URL) for classification.
func (c *Client) Check(ctx context.Context, text, sourceURL string) (*CheckResult, error) {
	body := map[string]string{"text": text}
	if sourceURL != "" {
		body["source_url"] = sourceURL
	}
	var out CheckResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/check", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the full ordered record list.
func (c *Client) History(ctx context.Context) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/history", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Stats returns the classification breakdown.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Overview returns the ledger length and root hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyRecord re-derives one record's hash on the server.
func (c *Client) VerifyRecord(ctx context.Context, hash string) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/verify/"+url.PathEscape(hash), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyChain checks the whole ledger's integrity.
func (c *Client) VerifyChain(ctx context.Context) (*ChainResult, error) {
	var out ChainResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
