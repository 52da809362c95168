package agreement

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/veracite/veracite/internal/ledger"
)

// ReceiptSigner issues HMAC-SHA256 signed receipts for accepted items.
// A receipt binds the ledger record's identity — item id, label, sequence
// number and entry hash — so a caller can present an offline-verifiable
// proof that a given classification was committed.
type ReceiptSigner struct {
	secret []byte
	issuer string
}

// NewReceiptSigner creates a signer with the given HMAC secret.
func NewReceiptSigner(secret []byte, issuer string) *ReceiptSigner {
	return &ReceiptSigner{secret: secret, issuer: issuer}
}

// Sign implements ReceiptIssuer.
func (s *ReceiptSigner) Sign(rec *ledger.Record) (string, error) {
	claims := jwt.MapClaims{
		"iss":        s.issuer,
		"iat":        time.Now().Unix(),
		"item_id":    rec.ItemID,
		"label":      rec.Label,
		"seq":        rec.SequenceNumber,
		"entry_hash": rec.EntryHash,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return token, nil
}

// Verify parses and validates a receipt, returning its claims.
func (s *ReceiptSigner) Verify(receipt string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(receipt, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse receipt: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid receipt")
	}
	return claims, nil
}
