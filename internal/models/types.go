package models

import (
	"time"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

// TransactionRequest is the payload from the client. Fraud indicators and the
// verification method are supplied by the upstream risk scorer.
type TransactionRequest struct {
	CustomerID         string   `json:"customer_id"`
	Type               string   `json:"transaction_type"`
	Amount             *float64 `json:"amount"`
	MerchantID         string   `json:"merchant_id"`
	Location           string   `json:"location"`
	DeviceFingerprint  string   `json:"device_fingerprint"`
	FraudIndicators    []string `json:"fraud_indicators"`
	VerificationMethod string   `json:"verification_method"`
}

// MineRequest optionally names the miner credited in the block header.
type MineRequest struct {
	MinerID string `json:"miner_id"`
}

// TransactionResponse echoes the queued transaction with its score change.
type TransactionResponse struct {
	Transaction domain.Transaction `json:"transaction"`
	Status      string             `json:"status"`
}

// BlockList is returned by GET /blocks.
type BlockList struct {
	Height int                 `json:"height"`
	Blocks []domain.TrustBlock `json:"blocks"`
}

// PendingList is returned by GET /pending.
type PendingList struct {
	Count        int                  `json:"count"`
	Transactions []domain.Transaction `json:"transactions"`
}

// VerifyResponse reports the outcome of a full chain verification.
type VerifyResponse struct {
	Valid      bool      `json:"valid"`
	Error      string    `json:"error,omitempty"`
	Blocks     int       `json:"blocks"`
	VerifiedAt time.Time `json:"verified_at"`
}

// HistoryResponse lists a customer's score changes, newest first.
type HistoryResponse struct {
	CustomerID string               `json:"customer_id"`
	History    []domain.TrustUpdate `json:"history"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
