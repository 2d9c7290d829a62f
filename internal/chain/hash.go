// Package chain holds the hashing, Merkle aggregation and proof-of-work sealing
// used by the trust ledger. Everything here is pure except Seal, which only
// reads the context it is given.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

// TimeFormat renders timestamps inside hash inputs.
const TimeFormat = time.RFC3339Nano

// Digest returns the lowercase hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalTransaction fixes field order and renders every value as a string,
// int or string slice so that encoding cannot fail.
type canonicalTransaction struct {
	ID                 string   `json:"transaction_id"`
	CustomerID         string   `json:"customer_id"`
	Timestamp          string   `json:"timestamp"`
	Type               string   `json:"transaction_type"`
	Amount             string   `json:"amount"`
	MerchantID         string   `json:"merchant_id"`
	Location           string   `json:"location"`
	DeviceFingerprint  string   `json:"device_fingerprint"`
	TrustScoreBefore   int      `json:"trust_score_before"`
	TrustScoreAfter    int      `json:"trust_score_after"`
	FraudIndicators    []string `json:"fraud_indicators"`
	VerificationMethod string   `json:"verification_method"`
}

// FormatAmount renders an amount in its shortest exact decimal form.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// FormatTime renders t in UTC for hash inputs.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// CanonicalTransaction returns the byte encoding hashed by TransactionDigest.
func CanonicalTransaction(tx domain.Transaction) []byte {
	indicators := tx.FraudIndicators
	if indicators == nil {
		indicators = []string{}
	}
	b, _ := json.Marshal(canonicalTransaction{
		ID:                 tx.ID,
		CustomerID:         tx.CustomerID,
		Timestamp:          FormatTime(tx.Timestamp),
		Type:               string(tx.Type),
		Amount:             FormatAmount(tx.Amount),
		MerchantID:         tx.MerchantID,
		Location:           tx.Location,
		DeviceFingerprint:  tx.DeviceFingerprint,
		TrustScoreBefore:   tx.TrustScoreBefore,
		TrustScoreAfter:    tx.TrustScoreAfter,
		FraudIndicators:    indicators,
		VerificationMethod: string(tx.VerificationMethod),
	})
	return b
}

// TransactionDigest hashes the canonical encoding of tx.
func TransactionDigest(tx domain.Transaction) string {
	return Digest(CanonicalTransaction(tx))
}

// BlockHeader is the string hashed to produce a block hash: id, previous hash,
// timestamp, merkle root, nonce, difficulty and miner id with no delimiter.
func BlockHeader(b domain.TrustBlock) string {
	var sb strings.Builder
	sb.WriteString(b.ID)
	sb.WriteString(b.PreviousHash)
	sb.WriteString(FormatTime(b.Timestamp))
	sb.WriteString(b.MerkleRoot)
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))
	sb.WriteString(strconv.Itoa(b.Difficulty))
	sb.WriteString(b.MinerID)
	return sb.String()
}

// BlockHash recomputes the hash of b from its header fields.
func BlockHash(b domain.TrustBlock) string {
	return Digest([]byte(BlockHeader(b)))
}

// MeetsDifficulty reports whether hash starts with difficulty '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}
