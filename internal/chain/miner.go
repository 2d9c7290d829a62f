package chain

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/punchamoorthee/trustledger/internal/domain"
)

var (
	ErrEmptyPendingQueue = errors.New("chain: no pending transactions")
	ErrMiningCancelled   = errors.New("chain: mining cancelled")
	ErrNonceExhausted    = errors.New("chain: nonce space exhausted")
	ErrInvalidDifficulty = errors.New("chain: invalid difficulty")
)

// MaxDifficulty is the length of a hex SHA-256 digest.
const MaxDifficulty = 64

// DefaultCheckEvery is how many nonces are tried between context checks.
const DefaultCheckEvery = 4096

// Template is a candidate block before its nonce is found.
type Template struct {
	ID           string
	PreviousHash string
	Timestamp    time.Time
	Difficulty   int
	MinerID      string
	Transactions []domain.Transaction
}

// NewTemplate captures a fresh block id and the current time for pending.
func NewTemplate(minerID string, pending []domain.Transaction, previousHash string, difficulty int) (Template, error) {
	if len(pending) == 0 {
		return Template{}, ErrEmptyPendingQueue
	}
	return Template{
		ID:           uuid.NewString(),
		PreviousHash: previousHash,
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		Difficulty:   difficulty,
		MinerID:      minerID,
		Transactions: pending,
	}, nil
}

// Miner searches nonces for block templates.
type Miner struct {
	// CheckEvery bounds the work done between cancellation checks.
	CheckEvery uint64
	// Attempts, when set, is told how many hashes each successful Seal took.
	Attempts func(n uint64)
}

// NewMiner returns a Miner with the default check interval.
func NewMiner() *Miner {
	return &Miner{CheckEvery: DefaultCheckEvery}
}

// Seal finds the first nonce whose block hash meets the template difficulty.
// The Merkle root is fixed before the search starts. A cancelled ctx yields
// ErrMiningCancelled and no block.
func (m *Miner) Seal(ctx context.Context, t Template) (*domain.TrustBlock, error) {
	if len(t.Transactions) == 0 {
		return nil, ErrEmptyPendingQueue
	}
	if t.Difficulty < 0 || t.Difficulty > MaxDifficulty {
		return nil, errors.Wrapf(ErrInvalidDifficulty, "difficulty %d", t.Difficulty)
	}
	checkEvery := m.CheckEvery
	if checkEvery == 0 {
		checkEvery = DefaultCheckEvery
	}

	txs := make([]domain.Transaction, len(t.Transactions))
	for i := range t.Transactions {
		txs[i] = t.Transactions[i].Clone()
	}
	block := domain.TrustBlock{
		ID:           t.ID,
		PreviousHash: t.PreviousHash,
		Timestamp:    t.Timestamp,
		Transactions: txs,
		MerkleRoot:   MerkleRoot(txs),
		Difficulty:   t.Difficulty,
		MinerID:      t.MinerID,
	}

	for attempts := uint64(1); ; attempts++ {
		hash := BlockHash(block)
		if MeetsDifficulty(hash, block.Difficulty) {
			block.Hash = hash
			if m.Attempts != nil {
				m.Attempts(attempts)
			}
			return &block, nil
		}
		if block.Nonce == math.MaxUint64 {
			return nil, errors.Wrapf(ErrNonceExhausted, "block %s", block.ID)
		}
		block.Nonce++

		if attempts%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "block %s after %d attempts", block.ID, attempts), ErrMiningCancelled)
			}
			runtime.Gosched()
		}
	}
}

// MineBlock builds a template from pending and seals it with a default Miner.
func MineBlock(ctx context.Context, minerID string, pending []domain.Transaction, previousHash string, difficulty int) (*domain.TrustBlock, error) {
	t, err := NewTemplate(minerID, pending, previousHash, difficulty)
	if err != nil {
		return nil, err
	}
	return NewMiner().Seal(ctx, t)
}
