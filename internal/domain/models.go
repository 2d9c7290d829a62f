package domain

import (
	"time"
)

// TransactionType classifies a customer event.
type TransactionType string

const (
	TypePurchase          TransactionType = "PURCHASE"
	TypeReturn            TransactionType = "RETURN"
	TypeLoyaltyRedemption TransactionType = "LOYALTY_REDEMPTION"
	// TypeGenesis is reserved for the synthetic transaction in block 0.
	TypeGenesis TransactionType = "GENESIS"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypePurchase, TypeReturn, TypeLoyaltyRedemption, TypeGenesis:
		return true
	}
	return false
}

// VerificationMethod is how the customer was authenticated for a transaction.
type VerificationMethod string

const (
	VerificationStandard  VerificationMethod = "STANDARD"
	VerificationTwoFactor VerificationMethod = "TWO_FACTOR"
	VerificationBiometric VerificationMethod = "BIOMETRIC"
	// VerificationSystem is reserved for the genesis transaction.
	VerificationSystem VerificationMethod = "SYSTEM"
)

// Valid reports whether v is a known verification method.
func (v VerificationMethod) Valid() bool {
	switch v {
	case VerificationStandard, VerificationTwoFactor, VerificationBiometric, VerificationSystem:
		return true
	}
	return false
}

const (
	// SystemID is the customer, merchant and miner id used by genesis.
	SystemID = "SYSTEM"
	// GenesisID is the id of both the genesis block and its transaction.
	GenesisID = "GENESIS"
	// Unknown fills optional transaction attributes the caller left empty.
	Unknown = "UNKNOWN"
)

// ZeroHash is the previous hash of the genesis block.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Transaction is the immutable record of one customer event.
// TrustScoreAfter is always derived from TrustScoreBefore by the trust engine.
type Transaction struct {
	ID                 string             `json:"transaction_id"`
	CustomerID         string             `json:"customer_id"`
	Timestamp          time.Time          `json:"timestamp"`
	Type               TransactionType    `json:"transaction_type"`
	Amount             float64            `json:"amount"`
	MerchantID         string             `json:"merchant_id"`
	Location           string             `json:"location"`
	DeviceFingerprint  string             `json:"device_fingerprint"`
	TrustScoreBefore   int                `json:"trust_score_before"`
	TrustScoreAfter    int                `json:"trust_score_after"`
	FraudIndicators    []string           `json:"fraud_indicators"`
	VerificationMethod VerificationMethod `json:"verification_method"`
}

// TrustBlock is a sealed group of transactions.
// Hash is computed over every other field except Transactions, which are
// covered through MerkleRoot.
type TrustBlock struct {
	ID           string        `json:"block_id"`
	PreviousHash string        `json:"previous_hash"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	MerkleRoot   string        `json:"merkle_root"`
	Nonce        uint64        `json:"nonce"`
	Difficulty   int           `json:"difficulty"`
	MinerID      string        `json:"miner_id"`
	Hash         string        `json:"block_hash"`
}

// Clone returns a deep copy so callers never share the ledger's slices.
func (b TrustBlock) Clone() TrustBlock {
	out := b
	out.Transactions = make([]Transaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		out.Transactions[i] = tx.Clone()
	}
	return out
}

// Clone returns a deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	out := t
	out.FraudIndicators = append([]string{}, t.FraudIndicators...)
	return out
}

// TrustUpdate is one entry of the append-only score audit trail.
type TrustUpdate struct {
	CustomerID    string    `json:"customer_id"`
	OldScore      int       `json:"old_score"`
	NewScore      int       `json:"new_score"`
	Reason        string    `json:"change_reason"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// CustomerTrust is the stored trust state of one customer.
type CustomerTrust struct {
	CustomerID       string    `json:"customer_id"`
	Score            int       `json:"trust_score"`
	TransactionCount int64     `json:"transaction_count"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Stats summarizes the ledger.
type Stats struct {
	TotalBlocks         int        `json:"total_blocks"`
	TotalTransactions   int        `json:"total_transactions"`
	PendingTransactions int        `json:"pending_transactions"`
	TotalCustomers      int        `json:"total_customers"`
	AverageTrustScore   float64    `json:"average_trust_score"`
	LastBlockTime       *time.Time `json:"last_block_time,omitempty"`
	Difficulty          int        `json:"difficulty"`
	Corrupted           bool       `json:"corrupted"`
}
