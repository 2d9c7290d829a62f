// Package trust computes bounded per-customer trust scores from transaction
// behavior.
package trust

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

const (
	DefaultScore = 50
	MinScore     = 0
	MaxScore     = 100
)

const (
	highAmount = 1000.0
	lowAmount  = 10.0

	fraudPenalty = 5
)

// Attributes are the transaction fields the score depends on.
type Attributes struct {
	Amount             float64
	FraudIndicators    []string
	VerificationMethod domain.VerificationMethod
	Type               domain.TransactionType
}

// AttributesOf extracts the scoring inputs of a recorded transaction.
func AttributesOf(tx domain.Transaction) Attributes {
	return Attributes{
		Amount:             tx.Amount,
		FraudIndicators:    tx.FraudIndicators,
		VerificationMethod: tx.VerificationMethod,
		Type:               tx.Type,
	}
}

// Adjustment is the contribution of one scoring rule.
type Adjustment struct {
	Rule  string `json:"rule"`
	Delta int    `json:"delta"`
}

// Adjustments evaluates every rule against attrs, in a fixed order.
func Adjustments(attrs Attributes) []Adjustment {
	return []Adjustment{
		{Rule: "amount", Delta: amountDelta(attrs.Amount)},
		{Rule: "fraud", Delta: fraudDelta(len(attrs.FraudIndicators))},
		{Rule: "verification", Delta: verificationDelta(attrs.VerificationMethod)},
		{Rule: "type", Delta: typeDelta(attrs.Type)},
	}
}

func amountDelta(amount float64) int {
	switch {
	case amount > highAmount:
		return -2
	case amount < lowAmount:
		return -1
	default:
		return 1
	}
}

// fraudDelta saturates at -(MaxScore+1) so huge indicator counts cannot
// overflow the sum; the clamp yields MinScore either way.
func fraudDelta(count int) int {
	if count > MaxScore {
		count = MaxScore + 1
	}
	return -fraudPenalty * count
}

func verificationDelta(v domain.VerificationMethod) int {
	switch v {
	case domain.VerificationBiometric:
		return 3
	case domain.VerificationTwoFactor:
		return 2
	default:
		return 0
	}
}

func typeDelta(t domain.TransactionType) int {
	switch t {
	case domain.TypeReturn:
		return -1
	case domain.TypeLoyaltyRedemption:
		return 2
	default:
		return 0
	}
}

// Delta is the sum of all rule adjustments.
func Delta(attrs Attributes) int {
	sum := 0
	for _, a := range Adjustments(attrs) {
		sum += a.Delta
	}
	return sum
}

// Next returns the score after applying attrs to current.
func Next(current int, attrs Attributes) int {
	return Clamp(Clamp(current) + Delta(attrs))
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Reason renders adjustments for the audit trail, e.g. "amount:+1 fraud:0".
func Reason(adjs []Adjustment) string {
	parts := make([]string, len(adjs))
	for i, a := range adjs {
		if a.Delta > 0 {
			parts[i] = fmt.Sprintf("%s:+%d", a.Rule, a.Delta)
		} else {
			parts[i] = fmt.Sprintf("%s:%d", a.Rule, a.Delta)
		}
	}
	return strings.Join(parts, " ")
}
